package events

import (
	"bytes"
	"context"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("delivers messages to the writer", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)

			err := ep.Write(context.TODO(), JobStatusMessageKind, bytes.NewReader([]byte("msg1")))
			Expect(err).To(BeNil())
			Eventually(w.Count).Should(Equal(1))
			Expect(w.Message(0).Context.GetType()).To(Equal(JobStatusMessageKind))
			Expect(w.Message(0).Context.GetSource()).To(Equal(eventSource))

			err = ep.Write(context.TODO(), JobStatusMessageKind, bytes.NewReader([]byte("msg2")))
			Expect(err).To(BeNil())
			Eventually(w.Count).Should(Equal(2))

			ep.Close()
		})

		It("honors the topic option", func() {
			w := newTestWriter()
			ep := NewEventProducer(w, WithOutputTopic("audit"))

			err := ep.Write(context.TODO(), JobStatusMessageKind, bytes.NewReader([]byte("msg")))
			Expect(err).To(BeNil())
			Eventually(w.Count).Should(Equal(1))
			Expect(w.Topic(0)).To(Equal("audit"))

			ep.Close()
		})
	})
})

type testwriter struct {
	mu       sync.Mutex
	messages []cloudevents.Event
	topics   []string
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, e)
	t.topics = append(t.topics, topic)
	return nil
}

func (t *testwriter) Close(_ context.Context) error {
	return nil
}

func (t *testwriter) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *testwriter) Message(i int) cloudevents.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messages[i]
}

func (t *testwriter) Topic(i int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.topics[i]
}
