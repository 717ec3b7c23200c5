package tracking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/mailtrack/internal/domain"
	"github.com/ignite/mailtrack/internal/service/opens"
)

type fakeProcessor struct {
	mu        sync.Mutex
	recorded  []opens.Fetch
	evaluated []*domain.OpenEvent

	recordErr error
	evalErr   error
	suppress  bool
	panicOn   string
}

func (f *fakeProcessor) Record(_ context.Context, fe opens.Fetch) (opens.RecordOutcome, error) {
	if fe.TrackingID == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return opens.RecordOutcome{}, f.recordErr
	}
	if f.suppress {
		return opens.RecordOutcome{Reason: opens.SuppressedTooSoon}, nil
	}
	f.recorded = append(f.recorded, fe)
	return opens.RecordOutcome{Event: &domain.OpenEvent{ID: int64(len(f.recorded)), MessageID: fe.TrackingID, OpenedAt: fe.At}}, nil
}

func (f *fakeProcessor) Evaluate(_ context.Context, ev *domain.OpenEvent) ([]domain.Latch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated = append(f.evaluated, ev)
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	return []domain.Latch{domain.LatchFirstOpen}, nil
}

func (f *fakeProcessor) counts() (recorded, evaluated int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recorded), len(f.evaluated)
}

// fakeQueue is an in-memory SQS queue.
type fakeQueue struct {
	mu       sync.Mutex
	pending  []string
	sent     []string
	deleted  []string
	sendErr  error
	recvErr  error
	received chan struct{}
}

func newFakeQueue(bodies ...string) *fakeQueue {
	return &fakeQueue{pending: bodies, received: make(chan struct{}, 100)}
}

func (q *fakeQueue) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return nil, q.sendErr
	}
	q.sent = append(q.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{MessageId: aws.String("id")}, nil
}

func (q *fakeQueue) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	if q.recvErr != nil {
		err := q.recvErr
		q.mu.Unlock()
		return nil, err
	}
	if len(q.pending) == 0 {
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return &sqs.ReceiveMessageOutput{}, nil
		}
	}
	var msgs []types.Message
	for i, body := range q.pending {
		msgs = append(msgs, types.Message{Body: aws.String(body), ReceiptHandle: aws.String(receipt(i, body))})
	}
	q.pending = nil
	q.mu.Unlock()
	q.received <- struct{}{}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (q *fakeQueue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (q *fakeQueue) deletedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deleted)
}

func receipt(i int, body string) string {
	if len(body) > 8 {
		body = body[:8]
	}
	return string(rune('a'+i)) + ":" + body
}

var errStorage = errors.New("storage unavailable")
