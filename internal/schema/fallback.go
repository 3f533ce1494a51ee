package schema

// FallbackDescription covers the most frequently asked-about tables when the
// catalog cannot be read.
const FallbackDescription = `表 students -- 学生信息表
  id bigint NOT NULL
  name varchar NOT NULL -- 姓名
  gender varchar -- 性别
  birth_date date -- 出生日期, 年龄需由此计算
  class_id bigint -- 所属班级
  status varchar -- 在读状态
  created_at timestamp -- 注册时间

表 classes -- 班级表
  id bigint NOT NULL
  name varchar NOT NULL -- 班级名称
  grade varchar -- 年级
  head_teacher_id bigint -- 班主任
  created_at timestamp

表 activities -- 活动表
  id bigint NOT NULL
  name varchar NOT NULL -- 活动名称
  type varchar -- 活动类型
  start_time timestamp -- 开始时间
  end_time timestamp -- 结束时间
  status varchar -- 活动状态
`
