package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edusql/edusql/internal/fastpath"
	"github.com/edusql/edusql/internal/history"
	"github.com/edusql/edusql/internal/intent"
	"github.com/edusql/edusql/internal/llm"
	"github.com/edusql/edusql/internal/nl2sql"
	"github.com/edusql/edusql/internal/observability"
	"github.com/edusql/edusql/internal/permission"
	"github.com/edusql/edusql/internal/query"
	"github.com/edusql/edusql/internal/visualize"
)

type fakeClassifier struct {
	analysis intent.Analysis
	entered  chan struct{}
	release  chan struct{}
	calls    atomic.Int32
}

func (f *fakeClassifier) Classify(ctx context.Context, callerID, text string, permitted []permission.Table) intent.Analysis {
	if f.calls.Add(1) == 1 && f.entered != nil {
		close(f.entered)
		<-f.release
	}
	return f.analysis
}

type fakeSchema struct {
	calls  atomic.Int32
	tables []string
}

func (f *fakeSchema) Describe(ctx context.Context, tables []string) (string, bool) {
	f.calls.Add(1)
	f.tables = append([]string(nil), tables...)
	return "表 students -- 学生表\n  id bigint NOT NULL\n", false
}

type fakeTranslator struct {
	sql   string
	err   error
	block bool
	calls atomic.Int32
}

func (f *fakeTranslator) Translate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nl2sql.Result{}, ctx.Err()
	}
	if f.err != nil {
		return nl2sql.Result{}, f.err
	}
	return nl2sql.Result{SQL: f.sql, Provider: "openai", Model: "gpt-4o"}, nil
}

type fakeEngine struct {
	result query.Result
	err    error
	calls  atomic.Int32
	sql    string
}

func (f *fakeEngine) Execute(ctx context.Context, req query.Request) (query.Result, error) {
	f.calls.Add(1)
	f.sql = req.SQL
	if f.err != nil {
		return query.Result{}, f.err
	}
	return f.result, nil
}

type fakeFastPath struct {
	result fastpath.Result
	err    error
	calls  atomic.Int32
}

func (f *fakeFastPath) Ask(ctx context.Context, in fastpath.Request) (fastpath.Result, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type harness struct {
	classifier *fakeClassifier
	schema     *fakeSchema
	translator *fakeTranslator
	engine     *fakeEngine
	store      *history.MemoryStore
	registry   *prometheus.Registry
	chatReply  string
	chatErr    error
	chatCalls  atomic.Int32
	cfg        StandardConfig
}

func newHarness(analysis intent.Analysis) *harness {
	return &harness{
		classifier: &fakeClassifier{analysis: analysis},
		schema:     &fakeSchema{},
		translator: &fakeTranslator{},
		engine:     &fakeEngine{},
		store:      history.NewMemoryStore(time.Hour),
		registry:   prometheus.NewRegistry(),
		chatReply:  "你好！有什么可以帮您？",
		cfg:        StandardConfig{Dialect: "postgres", RowLimit: 1000, ChatModel: "gpt-4o-mini"},
	}
}

func (h *harness) build(t *testing.T, first ...Strategy) *Orchestrator {
	t.Helper()
	metrics, err := observability.NewPipelineMetrics(h.registry)
	if err != nil {
		t.Fatalf("NewPipelineMetrics() error = %v", err)
	}
	standard, err := NewStandard(h.cfg, Dependencies{
		Classifier: h.classifier,
		Schema:     h.schema,
		Translator: h.translator,
		Engine:     h.engine,
		History:    h.store,
		Chat: llm.ClientFunc(func(ctx context.Context, req llm.Request) (llm.Response, error) {
			h.chatCalls.Add(1)
			if h.chatErr != nil {
				return llm.Response{}, h.chatErr
			}
			return llm.Response{Content: h.chatReply, Model: req.Model}, nil
		}),
		Metrics: metrics,
	})
	if err != nil {
		t.Fatalf("NewStandard() error = %v", err)
	}
	orchestrator, err := New(Config{MaxQueryLength: DefaultMaxQueryLength}, nil, metrics, append(first, standard)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return orchestrator
}

func (h *harness) sqlStageCalls() int32 {
	return h.schema.calls.Load() + h.translator.calls.Load() + h.engine.calls.Load()
}

func classCountAnalysis() intent.Analysis {
	return intent.Analysis{
		IsDataQuery:    true,
		Category:       intent.CategoryStatistics,
		Confidence:     0.92,
		RequiredTables: []string{"students", "classes"},
		Source:         intent.SourceModel,
	}
}

func classCountResult() query.Result {
	return query.Result{
		Columns: []string{"class_name", "student_count"},
		Rows: [][]any{
			{"一年级一班", int64(32)},
			{"一年级二班", int64(30)},
			{"二年级一班", int64(28)},
		},
		Duration: 4 * time.Millisecond,
	}
}

func TestAdminClassCountReturnsBarChart(t *testing.T) {
	h := newHarness(classCountAnalysis())
	h.translator.sql = "SELECT c.name AS class_name, COUNT(s.id) AS student_count FROM classes c JOIN students s ON s.class_id = c.id GROUP BY c.name"
	h.engine.result = classCountResult()
	orchestrator := h.build(t)

	answer := orchestrator.Ask(context.Background(), Request{Text: "统计各班级学生人数", CallerID: "admin-1", CallerRole: "admin"})
	if !answer.Success || answer.Type != AnswerDataQuery {
		t.Fatalf("answer = %+v", answer)
	}
	if answer.Visualization == nil || answer.Visualization.Type != visualize.ChartBar {
		t.Fatalf("visualization = %+v", answer.Visualization)
	}
	if got := strings.Join(answer.Metadata.RequiredTables, ","); got != "students,classes" {
		t.Fatalf("RequiredTables = %q", got)
	}
	if len(answer.Metadata.Columns) != 2 || len(answer.Data) != 3 {
		t.Fatalf("columns = %v rows = %d", answer.Metadata.Columns, len(answer.Data))
	}
	if answer.Metadata.GeneratedSQL != h.engine.sql || answer.Metadata.UsedModel != "gpt-4o" {
		t.Fatalf("metadata = %+v", answer.Metadata)
	}
	if answer.Metadata.CacheHit || answer.SessionID == "" || answer.HTTPStatus() != http.StatusOK {
		t.Fatalf("answer = %+v", answer)
	}
	if h.store.Len() != 1 {
		t.Fatalf("history entries = %d, want 1", h.store.Len())
	}
}

func TestGreetingIsAnsweredByChatOnly(t *testing.T) {
	h := newHarness(intent.Analysis{IsDataQuery: false, Category: intent.CategoryUnknown, Confidence: 0.95, Source: intent.SourceModel})
	orchestrator := h.build(t)

	answer := orchestrator.Ask(context.Background(), Request{Text: "你好", CallerID: "p-1", CallerRole: "parent"})
	if !answer.Success || answer.Type != AnswerAI {
		t.Fatalf("answer = %+v", answer)
	}
	if answer.Response != h.chatReply || answer.Metadata.UsedModel != "gpt-4o-mini" {
		t.Fatalf("answer = %+v", answer)
	}
	if answer.Intent == nil || answer.Intent.IsDataQuery {
		t.Fatalf("intent = %+v", answer.Intent)
	}
	if h.chatCalls.Load() != 1 || h.sqlStageCalls() != 0 {
		t.Fatalf("chat calls = %d sql stage calls = %d", h.chatCalls.Load(), h.sqlStageCalls())
	}
}

func TestTeacherCannotReadMarketingTables(t *testing.T) {
	h := newHarness(intent.Analysis{IsDataQuery: true, Category: intent.CategoryStatistics, RequiredTables: []string{"marketing_campaigns"}})
	h.translator.sql = "SELECT name, budget FROM marketing_campaigns"
	orchestrator := h.build(t)

	answer := orchestrator.Ask(context.Background(), Request{Text: "本月营销投放预算是多少", CallerID: "t-9", CallerRole: "teacher"})
	if answer.Success || answer.Error == nil {
		t.Fatalf("answer = %+v", answer)
	}
	if answer.Error.Code != CodeSQLValidation || answer.HTTPStatus() != http.StatusBadRequest {
		t.Fatalf("error = %+v", answer.Error)
	}
	if !strings.Contains(answer.Error.Message, "no permission for table marketing_campaigns") {
		t.Fatalf("message = %q", answer.Error.Message)
	}
	if h.engine.calls.Load() != 0 {
		t.Fatal("executor must not run after validation failure")
	}
	if h.store.Len() != 0 {
		t.Fatal("rejected answers must not be cached")
	}
	for _, table := range h.schema.tables {
		if table == "marketing_campaigns" {
			t.Fatalf("schema described a table outside the teacher's set: %v", h.schema.tables)
		}
	}
}

func TestMultiDomainQuestionReturnsPlan(t *testing.T) {
	h := newHarness(classCountAnalysis())
	orchestrator := h.build(t)

	answer := orchestrator.Ask(context.Background(), Request{Text: "对比一下学生人数和营销活动的投放效果", CallerID: "pr-1", CallerRole: "principal"})
	if !answer.Success || answer.Type != AnswerPlan || answer.Plan == nil {
		t.Fatalf("answer = %+v", answer)
	}
	if len(answer.Plan.Steps) < 2 {
		t.Fatalf("steps = %+v", answer.Plan.Steps)
	}
	if h.sqlStageCalls() != 0 || h.chatCalls.Load() != 0 {
		t.Fatalf("sql stage calls = %d chat calls = %d", h.sqlStageCalls(), h.chatCalls.Load())
	}
	if h.store.Len() != 1 {
		t.Fatalf("plan must be written to history, entries = %d", h.store.Len())
	}
}

func TestDatabaseFailureCarriesTruncatedSQL(t *testing.T) {
	h := newHarness(classCountAnalysis())
	h.translator.sql = "SELECT name FROM students WHERE " + strings.Repeat("name <> 'x' AND ", 40) + "id > 0"
	h.engine.err = errors.New(`relation "students" does not exist`)
	orchestrator := h.build(t)

	answer := orchestrator.Ask(context.Background(), Request{Text: "列出所有学生", CallerID: "admin-1", CallerRole: "admin"})
	if answer.Success || answer.Error == nil || answer.Error.Code != CodeDatabase {
		t.Fatalf("answer = %+v", answer)
	}
	if answer.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("status = %d", answer.HTTPStatus())
	}
	if answer.Data != nil || answer.Visualization != nil {
		t.Fatal("failed query must not carry rows")
	}
	if !strings.Contains(answer.Error.Message, "does not exist") {
		t.Fatalf("message = %q", answer.Error.Message)
	}
	if n := len([]rune(answer.Error.SQL)); n != 500 || !strings.HasPrefix(answer.Error.SQL, "SELECT name FROM students") || !strings.HasSuffix(answer.Error.SQL, "...") {
		t.Fatalf("sql (%d runes) = %q", n, answer.Error.SQL)
	}
	if answer.Error.Timestamp == nil {
		t.Fatal("expected timestamp on database error")
	}
}

func TestRepeatQuestionServedFromHistory(t *testing.T) {
	h := newHarness(classCountAnalysis())
	h.translator.sql = "SELECT c.name AS class_name, COUNT(s.id) AS student_count FROM classes c JOIN students s ON s.class_id = c.id GROUP BY c.name"
	h.engine.result = classCountResult()
	orchestrator := h.build(t)

	first := orchestrator.Ask(context.Background(), Request{Text: "统计各班级学生人数", CallerID: "admin-1", CallerRole: "admin", SessionID: "s-1"})
	if !first.Success {
		t.Fatalf("first answer = %+v", first)
	}
	before := h.classifier.calls.Load() + h.sqlStageCalls() + h.chatCalls.Load()

	second := orchestrator.Ask(context.Background(), Request{Text: "  统计各班级学生人数 ", CallerID: "admin-1", CallerRole: "admin", SessionID: "s-2"})
	if !second.Success || !second.Metadata.CacheHit {
		t.Fatalf("second answer = %+v", second)
	}
	if after := h.classifier.calls.Load() + h.sqlStageCalls() + h.chatCalls.Load(); after != before {
		t.Fatalf("cache hit made %d extra model/database calls", after-before)
	}
	if second.Type != first.Type || len(second.Data) != len(first.Data) || second.Metadata.GeneratedSQL != first.Metadata.GeneratedSQL {
		t.Fatalf("cached payload differs: %+v vs %+v", second, first)
	}
	if second.SessionID != "s-2" {
		t.Fatalf("SessionID = %q", second.SessionID)
	}
	if got := metricValue(t, h.registry, "edusql_cache_lookups_total", map[string]string{"result": "hit"}); got != 1 {
		t.Fatalf("cache hits = %v", got)
	}

	other := orchestrator.Ask(context.Background(), Request{Text: "统计各班级学生人数", CallerID: "admin-2", CallerRole: "admin"})
	if other.Metadata.CacheHit {
		t.Fatal("history must be scoped by caller")
	}
}

func TestInvalidTextRejectedBeforeAnyCall(t *testing.T) {
	for _, text := range []string{"", "   \n\t", strings.Repeat("学", 1001)} {
		h := newHarness(classCountAnalysis())
		fast := &fakeFastPath{}
		orchestrator := h.build(t, NewFastPath(fast))

		answer := orchestrator.Ask(context.Background(), Request{Text: text, CallerID: "u1", CallerRole: "admin"})
		if answer.Error == nil || answer.Error.Code != CodeClientInput || answer.HTTPStatus() != http.StatusBadRequest {
			t.Fatalf("text len %d: answer = %+v", len(text), answer)
		}
		if calls := fast.calls.Load() + h.classifier.calls.Load() + h.sqlStageCalls() + h.chatCalls.Load(); calls != 0 {
			t.Fatalf("text len %d: %d outbound calls", len(text), calls)
		}
	}
}

func TestMaxLengthTextIsAccepted(t *testing.T) {
	h := newHarness(intent.Analysis{IsDataQuery: false})
	orchestrator := h.build(t)

	answer := orchestrator.Ask(context.Background(), Request{Text: strings.Repeat("学", 1000), CallerID: "u1", CallerRole: "admin"})
	if !answer.Success {
		t.Fatalf("answer = %+v", answer)
	}
}

func TestFastPathFailureFallsBackSilently(t *testing.T) {
	h := newHarness(intent.Analysis{IsDataQuery: false})
	fast := &fakeFastPath{err: errors.New("connection refused")}
	orchestrator := h.build(t, NewFastPath(fast))

	answer := orchestrator.Ask(context.Background(), Request{Text: "你好", CallerID: "u1", CallerRole: "teacher"})
	if !answer.Success || answer.Type != AnswerAI || answer.Metadata.Strategy != "standard" {
		t.Fatalf("answer = %+v", answer)
	}
	if fast.calls.Load() != 1 {
		t.Fatalf("fast path calls = %d", fast.calls.Load())
	}
	if got := metricValue(t, h.registry, "edusql_fallbacks_total", map[string]string{"kind": "fast_path"}); got != 1 {
		t.Fatalf("fast path fallbacks = %v", got)
	}
}

func TestFastPathAnswerSkipsStandardPipeline(t *testing.T) {
	h := newHarness(classCountAnalysis())
	fast := &fakeFastPath{result: fastpath.Result{
		Type: "data_query",
		Body: []byte(`{"success":true,"type":"data_query","data":[{"n":3}],"metadata":{"execution_time_ms":12}}`),
	}}
	orchestrator := h.build(t, NewFastPath(fast))

	answer := orchestrator.Ask(context.Background(), Request{Text: "本月新增学生", CallerID: "u1", CallerRole: "principal", SessionID: "s-9"})
	if !answer.Success || answer.Type != AnswerDataQuery || answer.Metadata.Strategy != "fast_path" || answer.SessionID != "s-9" {
		t.Fatalf("answer = %+v", answer)
	}
	if h.classifier.calls.Load() != 0 {
		t.Fatal("standard pipeline must not run after a fast path answer")
	}
}

func TestModelFailuresMapToAIError(t *testing.T) {
	h := newHarness(classCountAnalysis())
	h.translator.err = nl2sql.ErrEmptyGeneration
	answer := h.build(t).Ask(context.Background(), Request{Text: "学生名单", CallerID: "u1", CallerRole: "admin"})
	if answer.Error == nil || answer.Error.Code != CodeAIModel || answer.HTTPStatus() != http.StatusServiceUnavailable {
		t.Fatalf("empty generation answer = %+v", answer)
	}

	h = newHarness(intent.Analysis{IsDataQuery: false})
	h.chatErr = errors.New("upstream 502")
	answer = h.build(t).Ask(context.Background(), Request{Text: "讲个笑话", CallerID: "u1", CallerRole: "admin"})
	if answer.Error == nil || answer.Error.Code != CodeAIModel || !answer.Error.Retryable {
		t.Fatalf("chat failure answer = %+v", answer)
	}
}

func TestStageDeadlineMapsToTimeout(t *testing.T) {
	h := newHarness(classCountAnalysis())
	h.translator.block = true
	h.cfg.SQLTimeout = 20 * time.Millisecond

	answer := h.build(t).Ask(context.Background(), Request{Text: "学生名单", CallerID: "u1", CallerRole: "admin"})
	if answer.Error == nil || answer.Error.Code != CodeTimeout || answer.HTTPStatus() != http.StatusGatewayTimeout {
		t.Fatalf("answer = %+v", answer)
	}
	if !strings.Contains(answer.Error.Message, "sql") {
		t.Fatalf("message = %q", answer.Error.Message)
	}
}

func TestConcurrentIdenticalQuestionsRunOnce(t *testing.T) {
	h := newHarness(intent.Analysis{IsDataQuery: false})
	h.classifier.entered = make(chan struct{})
	h.classifier.release = make(chan struct{})
	orchestrator := h.build(t)

	answers := make([]Answer, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		answers[0] = orchestrator.Ask(context.Background(), Request{Text: "你好", CallerID: "u1", CallerRole: "admin", SessionID: "a"})
	}()
	<-h.classifier.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		answers[1] = orchestrator.Ask(context.Background(), Request{Text: "你好 ", CallerID: "u1", CallerRole: "admin", SessionID: "b"})
	}()
	time.Sleep(20 * time.Millisecond)
	close(h.classifier.release)
	wg.Wait()

	if h.classifier.calls.Load() != 1 || h.chatCalls.Load() != 1 {
		t.Fatalf("classifier calls = %d chat calls = %d", h.classifier.calls.Load(), h.chatCalls.Load())
	}
	if !answers[0].Success || !answers[1].Success {
		t.Fatalf("answers = %+v", answers)
	}
	if answers[0].SessionID != "a" || answers[1].SessionID != "b" {
		t.Fatalf("session ids = %q, %q", answers[0].SessionID, answers[1].SessionID)
	}
}

func TestNewRequiresStrategy(t *testing.T) {
	if _, err := New(Config{}, nil, nil); err == nil {
		t.Fatal("expected error without strategies")
	}
	if _, err := NewStandard(StandardConfig{}, Dependencies{}); err == nil {
		t.Fatal("expected error without dependencies")
	}
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
