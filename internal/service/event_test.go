package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/queue"
	"github.com/legeling/xianyu-auto-reply/internal/service"
)

var _ = Describe("EventService", func() {
	var (
		ctx    context.Context
		events *mockEventLister
		reader *mockAccountReader
	)

	BeforeEach(func() {
		ctx = context.Background()
		events = &mockEventLister{events: []queue.AccountEvent{
			{ID: "3-0", AccountID: "mine", Event: "running"},
			{ID: "2-0", AccountID: "theirs", Event: "fatal"},
			{ID: "1-0", AccountID: "mine", Event: "started"},
		}}
		reader = newMockAccountReader(
			model.Account{ID: "mine", OwnerID: 1},
			model.Account{ID: "theirs", OwnerID: 2},
		)
	})

	It("filters the stream down to the owner's accounts", func() {
		svc := service.NewEventService(events, reader)
		got, err := svc.Recent(ctx, 1, "", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(2))
		for _, ev := range got {
			Expect(ev.AccountID).To(Equal("mine"))
		}
	})

	It("forbids another owner's account", func() {
		svc := service.NewEventService(events, reader)
		_, err := svc.Recent(ctx, 1, "theirs", 10)
		Expect(errors.Is(err, service.ErrForbidden)).To(BeTrue())
	})

	It("caps the limit", func() {
		svc := service.NewEventService(events, reader)
		_, err := svc.Recent(ctx, 1, "mine", 10_000)
		Expect(err).NotTo(HaveOccurred())
		Expect(events.limits).To(Equal([]int64{500}))
	})

	It("reports a missing stream", func() {
		svc := service.NewEventService(nil, reader)
		_, err := svc.Recent(ctx, 1, "", 10)
		Expect(err).To(MatchError(service.ErrEventsUnavailable))
	})
})
