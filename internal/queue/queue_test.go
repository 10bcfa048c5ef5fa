package queue

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/adverant/nexus/videotranslate-worker/internal/errors"
	"github.com/adverant/nexus/videotranslate-worker/internal/pipeline"
	"github.com/adverant/nexus/videotranslate-worker/internal/processor"
)

var _ asynq.Logger = asynqLogger{}

type statusUpdate struct {
	status   string
	progress int
	metadata map[string]interface{}
}

type fakeProcessor struct {
	mu      sync.Mutex
	process func(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error)
	updates []statusUpdate
}

func (f *fakeProcessor) ProcessVideo(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	return f.process(ctx, req)
}

func (f *fakeProcessor) UpdateJobStatus(_ context.Context, _ string, status string, progress int, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, statusUpdate{status, progress, metadata})
	return nil
}

func (f *fakeProcessor) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, u := range f.updates {
		out = append(out, u.status)
	}
	return out
}

func succeed(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	if req.OnProgress != nil {
		req.OnProgress(3, 3)
	}
	return &processor.ProcessResult{
		TargetLanguage: req.TargetLanguage,
		Report:         pipeline.Report{State: pipeline.JobComplete, FramesTotal: 3, FramesDone: 3},
	}, nil
}

func TestJobPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload JobPayload
		wantErr bool
	}{
		{"local input", JobPayload{JobID: "j", InputPath: "/in.mp4"}, false},
		{"remote input", JobPayload{JobID: "j", FileURL: "https://example.com/in.mp4"}, false},
		{"no id", JobPayload{InputPath: "/in.mp4"}, true},
		{"no source", JobPayload{JobID: "j"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.payload.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobPayloadJSON(t *testing.T) {
	raw := `{"jobId":"j1","userId":"u1","fileUrl":"https://cdn/x.mp4","targetLanguage":"de","metadata":{"source":"upload"}}`
	var p JobPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}
	req := p.request(nil)
	if req.JobID != "j1" || req.FileURL != "https://cdn/x.mp4" || req.TargetLanguage != "de" || req.Metadata["source"] != "upload" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{apperrors.NewUnsupportedLanguageError("xx", nil), false},
		{apperrors.NewInvalidConfigError("bad", nil), false},
		{apperrors.NewSourceDecodeError(3, goerrors.New("corrupt")), true},
		{apperrors.NewProcessingTimeoutError("j", time.Minute, nil), true},
		{goerrors.New("connection reset"), true},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunJobSuccess(t *testing.T) {
	proc := &fakeProcessor{process: succeed}
	var progress []int
	result, err := runJob(context.Background(), proc, &JobPayload{JobID: "j", InputPath: "/in.mp4", TargetLanguage: "fr"},
		time.Minute, true, func(done, total int) { progress = append(progress, done, total) })
	if err != nil {
		t.Fatalf("runJob: %v", err)
	}
	if result.Report.FramesTotal != 3 || len(progress) != 2 {
		t.Fatalf("result %+v progress %v", result, progress)
	}
	got := proc.statuses()
	if strings.Join(got, ",") != "processing,completed" {
		t.Fatalf("statuses = %v", got)
	}
	if proc.updates[1].metadata["framesTotal"] != 3 {
		t.Fatalf("completed metadata %+v", proc.updates[1].metadata)
	}
}

func TestRunJobFailureStatus(t *testing.T) {
	decodeErr := apperrors.NewSourceDecodeError(5, goerrors.New("truncated"))
	langErr := apperrors.NewUnsupportedLanguageError("xx", nil)

	tests := []struct {
		name        string
		err         error
		lastAttempt bool
		want        string
	}{
		{"retryable with attempts left", decodeErr, false, "retrying"},
		{"retryable on last attempt", decodeErr, true, "failed"},
		{"not retryable", langErr, false, "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{process: func(context.Context, *processor.ProcessRequest) (*processor.ProcessResult, error) {
				return nil, tt.err
			}}
			_, err := runJob(context.Background(), proc, &JobPayload{JobID: "j", InputPath: "/in.mp4"}, time.Minute, tt.lastAttempt, nil)
			if !goerrors.Is(err, tt.err) {
				t.Fatalf("err = %v", err)
			}
			last := proc.updates[len(proc.updates)-1]
			if last.status != tt.want || last.metadata["error_code"] != string(apperrors.CodeOf(tt.err)) {
				t.Fatalf("last update %+v", last)
			}
		})
	}
}

func TestRunJobTimeout(t *testing.T) {
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
		<-ctx.Done()
		return nil, apperrors.NewJobCancelledError(0, "Detecting", ctx.Err())
	}}
	_, err := runJob(context.Background(), proc, &JobPayload{JobID: "j", InputPath: "/in.mp4"}, 20*time.Millisecond, true, nil)
	if apperrors.CodeOf(err) != apperrors.ErrorProcessingTimeout {
		t.Fatalf("err = %v, want processing timeout", err)
	}
	last := proc.updates[len(proc.updates)-1]
	if last.status != "failed" || last.metadata["error_code"] != string(apperrors.ErrorProcessingTimeout) {
		t.Fatalf("last update %+v", last)
	}
}

func TestRetryDelay(t *testing.T) {
	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}
	for n, w := range want {
		if got := retryDelay(n, nil, nil); got != w {
			t.Errorf("retryDelay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestNewTranslateVideoTask(t *testing.T) {
	task, err := NewTranslateVideoTask(JobPayload{InputPath: "/in.mp4", TargetLanguage: "es"})
	if err != nil {
		t.Fatalf("NewTranslateVideoTask: %v", err)
	}
	if task.Type() != TaskTranslateVideo {
		t.Fatalf("type = %s", task.Type())
	}
	var p JobPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil || p.JobID == "" || p.TargetLanguage != "es" {
		t.Fatalf("payload %s: %v", task.Payload(), err)
	}

	if _, err := NewTranslateVideoTask(JobPayload{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRedisConsumerRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	ctx := context.Background()
	queueName := "videotranslate:test:" + time.Now().Format("150405.000000")
	defer func() {
		for _, suffix := range []string{"", ":data", ":processing", ":completed", ":failed", ":results", ":errors"} {
			client.Del(ctx, queueName+suffix)
		}
	}()

	done := make(chan string, 1)
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
		defer func() { done <- req.JobID }()
		return succeed(ctx, req)
	}}

	consumer, err := NewRedisConsumer(&RedisConsumerConfig{Client: client, QueueName: queueName, Processor: proc})
	if err != nil {
		t.Fatalf("NewRedisConsumer: %v", err)
	}

	id, err := EnqueueRedisJob(ctx, client, queueName, JobPayload{InputPath: "/in.mp4", TargetLanguage: "fr"}, 0)
	if err != nil {
		t.Fatalf("EnqueueRedisJob: %v", err)
	}

	consumer.Start()
	select {
	case got := <-done:
		if got != id {
			t.Fatalf("processed %s, want %s", got, id)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("job not processed")
	}
	consumer.Stop()

	if ok, _ := client.SIsMember(ctx, queueName+":completed", id).Result(); !ok {
		t.Fatal("job not in completed set")
	}
	stats, err := consumer.GetStats(ctx)
	if err != nil || stats["completed"] != 1 || stats["waiting"] != 0 {
		t.Fatalf("stats %v: %v", stats, err)
	}
}

func TestAsynqRoundTripKeepsResult(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	queueName := "videotranslate-test-" + time.Now().Format("150405.000000")

	done := make(chan string, 1)
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
		defer func() { done <- req.JobID }()
		return succeed(ctx, req)
	}}

	consumer, err := NewConsumer(&ConsumerConfig{RedisURL: url, QueueName: queueName, Processor: proc})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	producer, err := NewProducer(url, queueName)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	defer producer.Close()

	id, err := producer.Enqueue(context.Background(), JobPayload{InputPath: "/in.mp4", TargetLanguage: "fr"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case got := <-done:
		if got != id {
			t.Fatalf("processed %s, want %s", got, id)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("task not processed")
	}

	// the handler returns before asynq marks the task completed
	var info *asynq.TaskInfo
	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err = consumer.inspector.GetTaskInfo(queueName, id)
		if err == nil && info.State == asynq.TaskStateCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task not completed: %+v, %v", info, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	if info.Retention != ResultRetention {
		t.Errorf("retention = %v, want %v", info.Retention, ResultRetention)
	}
	var summary map[string]interface{}
	if err := json.Unmarshal(info.Result, &summary); err != nil || summary["framesTotal"] != float64(3) {
		t.Errorf("result %s: %v", info.Result, err)
	}

	consumer.inspector.DeleteQueue(queueName, true)
	consumer.Stop(context.Background())
}
