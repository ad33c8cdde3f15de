package printing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hibiken/asynq"

	"kassa/backend/internal/domain"
)

const (
	QueuePrint = "print"

	TaskPrintTicket  = "print:ticket"
	TaskPrintZReport = "print:zreport"
)

type TicketPayload struct {
	Business string      `json:"business"`
	Sale     domain.Sale `json:"sale"`
}

type ZReportPayload struct {
	Business string       `json:"business"`
	Shift    domain.Shift `json:"shift"`
}

func NewTicketTask(payload TicketPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPrintTicket, data), nil
}

func NewZReportTask(payload ZReportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPrintZReport, data), nil
}

// Dispatcher hands finished documents to the print pipeline.
type Dispatcher interface {
	PrintTicket(ctx context.Context, payload TicketPayload) error
	PrintZReport(ctx context.Context, payload ZReportPayload) error
}

// Noop drops print requests. It is used when no queue is configured.
type Noop struct{}

func (Noop) PrintTicket(context.Context, TicketPayload) error   { return nil }
func (Noop) PrintZReport(context.Context, ZReportPayload) error { return nil }

// AsynqDispatcher enqueues print tasks for cmd/worker.
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(redisOpts asynq.RedisClientOpt) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(redisOpts)}
}

func (d *AsynqDispatcher) PrintTicket(ctx context.Context, payload TicketPayload) error {
	task, err := NewTicketTask(payload)
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, task, asynq.Queue(QueuePrint), asynq.MaxRetry(3))
	return err
}

func (d *AsynqDispatcher) PrintZReport(ctx context.Context, payload ZReportPayload) error {
	task, err := NewZReportTask(payload)
	if err != nil {
		return err
	}
	_, err = d.client.EnqueueContext(ctx, task, asynq.Queue(QueuePrint), asynq.MaxRetry(3))
	return err
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// Sink receives rendered documents.
type Sink interface {
	Emit(ctx context.Context, kind string, ref string, doc string) error
}

// WriterSink writes documents to w, separated by a form feed.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Emit(_ context.Context, _ string, _ string, doc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, doc+"\f\n")
	return err
}

// Handler renders queued print tasks and passes them to a Sink.
type Handler struct {
	renderer *Renderer
	sink     Sink
	logger   *slog.Logger
}

func NewHandler(renderer *Renderer, sink Sink, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{renderer: renderer, sink: sink, logger: logger}
}

func (h *Handler) HandleTicket(ctx context.Context, t *asynq.Task) error {
	var payload TicketPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode ticket payload: %v: %w", err, asynq.SkipRetry)
	}
	doc := h.renderer.Ticket(payload.Sale, payload.Business)
	if err := h.sink.Emit(ctx, TaskPrintTicket, payload.Sale.TicketNumber, doc); err != nil {
		return err
	}
	h.logger.Info("ticket printed", slog.String("ticket", payload.Sale.TicketNumber))
	return nil
}

func (h *Handler) HandleZReport(ctx context.Context, t *asynq.Task) error {
	var payload ZReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode z-report payload: %v: %w", err, asynq.SkipRetry)
	}
	doc := h.renderer.ZReport(payload.Shift, payload.Business)
	if err := h.sink.Emit(ctx, TaskPrintZReport, payload.Shift.ID, doc); err != nil {
		return err
	}
	h.logger.Info("z-report printed", slog.String("shift_id", payload.Shift.ID))
	return nil
}

// Register mounts the handler's task types on mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskPrintTicket, h.HandleTicket)
	mux.HandleFunc(TaskPrintZReport, h.HandleZReport)
}
