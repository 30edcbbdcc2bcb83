package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/livesession"
	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/orchestrator"
	"github.com/legeling/xianyu-auto-reply/internal/reply"
	"github.com/legeling/xianyu-auto-reply/internal/service"
)

var _ = Describe("AccountService", func() {
	var (
		ctx     context.Context
		manager *mockAccountManager
		reader  *mockAccountReader
		global  *mockGlobalReloader
		svc     service.AccountService
	)

	BeforeEach(func() {
		ctx = context.Background()
		manager = &mockAccountManager{}
		reader = newMockAccountReader(
			model.Account{ID: "mine", OwnerID: 1, Enabled: true},
			model.Account{ID: "theirs", OwnerID: 2, Enabled: true},
		)
		global = &mockGlobalReloader{}
		svc = service.NewAccountService(manager, reader, global)
	})

	It("lists only the owner's accounts with task status", func() {
		manager.statusFn = func(id string) (orchestrator.TaskStatus, bool) {
			return orchestrator.TaskStatus{AccountID: id, State: orchestrator.StateRunning}, true
		}

		list, err := svc.List(ctx, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))
		Expect(list[0].Account.ID).To(Equal("mine"))
		Expect(list[0].Status.State).To(Equal(orchestrator.StateRunning))
	})

	It("forbids touching another owner's account", func() {
		err := svc.SetEnabled(ctx, 1, "theirs", false)
		Expect(errors.Is(err, service.ErrForbidden)).To(BeTrue())
		Expect(manager.calls).To(BeEmpty())
	})

	It("reports unknown accounts as not found", func() {
		_, err := svc.UpdateCredential(ctx, 1, "ghost", credential.FromString("unb=1"))
		Expect(errors.Is(err, orchestrator.ErrNotFound)).To(BeTrue())
	})

	It("treats removing an unknown account as done", func() {
		Expect(svc.Remove(ctx, 1, "ghost")).To(Succeed())
		Expect(manager.calls).To(BeEmpty())
	})

	It("forwards owned mutations to the orchestrator", func() {
		Expect(svc.SetEnabled(ctx, 1, "mine", false)).To(Succeed())
		Expect(svc.SetAutoConfirm(ctx, 1, "mine", true)).To(Succeed())
		Expect(svc.SetPauseDuration(ctx, 1, "mine", 5)).To(Succeed())
		Expect(svc.UpdateKeywords(ctx, 1, "mine", nil)).To(Succeed())
		Expect(svc.RemoveKeywordRule(ctx, 1, "mine", "price", nil)).To(Succeed())
		Expect(svc.SetRemark(ctx, 1, "mine", "main shop")).To(Succeed())
		Expect(svc.SetDefaultReply(ctx, 1, model.DefaultReplyPolicy{AccountID: "mine", Enabled: true, Text: "hi"})).To(Succeed())
		n, err := svc.ClearDefaultReplyRecords(ctx, 1, "mine")
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(3)))
		Expect(svc.Remove(ctx, 1, "mine")).To(Succeed())

		Expect(manager.calls).To(Equal([]string{
			"SetEnabled", "SetAutoConfirm", "SetPauseDuration", "UpdateKeywords",
			"RemoveKeywordRule", "SetRemark", "SetDefaultReply", "ClearDefaultReplyRecords", "RemoveAccount",
		}))
	})

	It("leaves id conflicts to the orchestrator on add", func() {
		manager.addFn = func(_ context.Context, id string, _ credential.Blob, _ int64) (*model.Account, error) {
			return nil, &orchestrator.ConflictError{AccountID: id, Reason: "taken"}
		}
		_, err := svc.Add(ctx, 1, "theirs", credential.FromString("unb=1"))
		Expect(errors.Is(err, orchestrator.ErrConflict)).To(BeTrue())
	})

	It("returns an empty disabled policy when none is stored", func() {
		p, err := svc.DefaultReply(ctx, 1, "mine")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.AccountID).To(Equal("mine"))
		Expect(p.Enabled).To(BeFalse())
	})

	It("dispatches replies through the running task", func() {
		manager.dispatchFn = func(_ context.Context, id string, msg livesession.InboundMessage) (reply.Outcome, error) {
			Expect(id).To(Equal("mine"))
			return reply.Outcome{Kind: reply.Matched, Text: "echo " + msg.Text}, nil
		}
		out, err := svc.Reply(ctx, 1, "mine", livesession.InboundMessage{ConversationID: "c", Text: "hey"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Text).To(Equal("echo hey"))
	})

	It("reloads global keywords before the store", func() {
		global.changed = true
		manager.reloadFn = func(context.Context) (orchestrator.ReloadResult, error) {
			Expect(global.calls).To(Equal(1))
			return orchestrator.ReloadResult{Started: []string{"mine"}}, nil
		}

		res, err := svc.Reload(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.GlobalKeywordsChanged).To(BeTrue())
		Expect(res.Started).To(ConsistOf("mine"))
	})

	It("stops reloading when the global file is unreadable", func() {
		global.err = errors.New("too large")
		_, err := svc.Reload(ctx)
		Expect(err).To(HaveOccurred())
		Expect(manager.calls).NotTo(ContainElement("ReloadFromStore"))
	})
})
