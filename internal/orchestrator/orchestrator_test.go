package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/livesession"
	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/orchestrator"
	"github.com/legeling/xianyu-auto-reply/internal/reply"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx      context.Context
		st       *fakeStore
		dialer   *fakeDialer
		reporter *recordingReporter
		orch     *orchestrator.Orchestrator
		cfg      orchestrator.Config
	)

	credA := credential.FromString("unb=1001; t=a")
	credB := credential.FromString("unb=1002; t=b")

	stateOf := func(id string) func() orchestrator.State {
		return func() orchestrator.State {
			s, _ := orch.Status(id)
			return s.State
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		st = newFakeStore()
		dialer = newFakeDialer()
		reporter = &recordingReporter{}
		cfg = orchestrator.Config{
			MaxConsecutiveFailures: 3,
			BackoffInitial:         5 * time.Millisecond,
			BackoffMax:             20 * time.Millisecond,
			ConnectTimeout:         time.Second,
			SendTimeout:            time.Second,
			StoreTimeout:           time.Second,
		}
	})

	JustBeforeEach(func() {
		orch = orchestrator.New(st, dialer, reply.New(st, nil), reporter, cfg)
	})

	AfterEach(func() {
		Expect(orch.Shutdown(ctx)).To(Succeed())
	})

	Describe("AddAccount", func() {
		It("persists the account and brings its task to running", func() {
			acct, err := orch.AddAccount(ctx, "A1", credA, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(acct.Enabled).To(BeTrue())
			Expect(acct.PauseMinutes).To(Equal(model.DefaultPauseMinutes))

			Eventually(stateOf("A1")).Should(Equal(orchestrator.StateRunning))
			Expect(dialer.latest("A1").connects.Load()).To(Equal(int32(1)))

			stored, err := st.GetAccount(ctx, "A1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.OwnerID).To(Equal(int64(7)))
		})

		It("rejects an id owned by someone else", func() {
			st.put(model.Account{ID: "A1", OwnerID: 1, Credential: credA, Enabled: true})

			_, err := orch.AddAccount(ctx, "A1", credB, 2)
			Expect(errors.Is(err, orchestrator.ErrConflict)).To(BeTrue())

			var conflict *orchestrator.ConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.AccountID).To(Equal("A1"))
			Expect(dialer.dials("A1")).To(BeZero())
		})

		It("rejects empty ids and credentials", func() {
			_, err := orch.AddAccount(ctx, "", credA, 1)
			Expect(errors.Is(err, orchestrator.ErrConfiguration)).To(BeTrue())

			_, err = orch.AddAccount(ctx, "A1", credential.FromString("  "), 1)
			Expect(errors.Is(err, orchestrator.ErrConfiguration)).To(BeTrue())
		})
	})

	Describe("replying", func() {
		JustBeforeEach(func() {
			_, err := orch.AddAccount(ctx, "A1", credA, 1)
			Expect(err).NotTo(HaveOccurred())
			Eventually(stateOf("A1")).Should(Equal(orchestrator.StateRunning))
		})

		It("answers a matching message on the same session", func() {
			Expect(orch.UpdateKeywords(ctx, "A1", []model.KeywordRule{{Keyword: "hi", Reply: "hello {send_user_name}!"}})).To(Succeed())

			sess := dialer.latest("A1")
			sess.push(livesession.InboundMessage{ConversationID: "C1", SenderID: "buyer", SenderName: "Ann", Text: "hi there"})

			Eventually(sess.Sent).Should(ConsistOf(sentMessage{ConversationID: "C1", RecipientID: "buyer", Text: "hello Ann!"}))
		})

		It("picks up keyword changes without restarting", func() {
			sess := dialer.latest("A1")
			sess.push(livesession.InboundMessage{ConversationID: "C1", SenderID: "b", Text: "price?"})
			Consistently(sess.Sent, 50*time.Millisecond).Should(BeEmpty())

			Expect(orch.UpdateKeywords(ctx, "A1", []model.KeywordRule{{Keyword: "price", Reply: "10 yuan"}})).To(Succeed())
			sess.push(livesession.InboundMessage{ConversationID: "C1", SenderID: "b", Text: "price?"})

			Eventually(sess.Sent).Should(HaveLen(1))
			Expect(dialer.dials("A1")).To(Equal(1))
		})

		It("pauses automated replies after the seller answers by hand", func() {
			Expect(orch.UpdateKeywords(ctx, "A1", []model.KeywordRule{{Keyword: "hi", Reply: "hello"}})).To(Succeed())
			sess := dialer.latest("A1")

			sess.push(livesession.InboundMessage{ConversationID: "C1", SenderID: "seller", Text: "let me check", FromSelf: true})
			sess.push(livesession.InboundMessage{ConversationID: "C1", SenderID: "b", Text: "hi"})
			sess.push(livesession.InboundMessage{ConversationID: "C2", SenderID: "b2", Text: "hi"})

			Eventually(sess.Sent).Should(ConsistOf(sentMessage{ConversationID: "C2", RecipientID: "b2", Text: "hello"}))
			Consistently(sess.Sent, 50*time.Millisecond).Should(HaveLen(1))
		})

		It("sends the once-only default reply exactly once under concurrent dispatch", func() {
			Expect(orch.SetDefaultReply(ctx, model.DefaultReplyPolicy{AccountID: "A1", Enabled: true, Once: true, Text: "contact us"})).To(Succeed())

			msg := livesession.InboundMessage{ConversationID: "C9", SenderID: "b", Text: "anything"}
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				outcomes []reply.OutcomeKind
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					out, err := orch.Dispatch(ctx, "A1", msg)
					Expect(err).NotTo(HaveOccurred())
					mu.Lock()
					outcomes = append(outcomes, out.Kind)
					mu.Unlock()
				}()
			}
			wg.Wait()

			Expect(dialer.latest("A1").Sent()).To(HaveLen(1))
			Expect(outcomes).To(ContainElement(reply.DefaultUsed))
			Expect(outcomes).To(HaveEach(Or(Equal(reply.DefaultUsed), Equal(reply.AlreadyUsedDefault))))
			Expect(st.hasRecord("A1", "C9")).To(BeTrue())
		})

		It("removes the default reply record when the send fails", func() {
			Expect(orch.SetDefaultReply(ctx, model.DefaultReplyPolicy{AccountID: "A1", Enabled: true, Once: true, Text: "contact us"})).To(Succeed())
			dialer.latest("A1").sendFn = func(string, string) error { return errBoom }

			_, err := orch.Dispatch(ctx, "A1", livesession.InboundMessage{ConversationID: "C3", SenderID: "b", Text: "x"})
			Expect(errors.Is(err, orchestrator.ErrTransient)).To(BeTrue())
			Expect(st.hasRecord("A1", "C3")).To(BeFalse())
		})

		It("sends manual messages through the running session", func() {
			Expect(orch.SendMessage(ctx, "A1", "C1", "buyer", "shipped")).To(Succeed())
			Expect(dialer.latest("A1").Sent()).To(ConsistOf(sentMessage{ConversationID: "C1", RecipientID: "buyer", Text: "shipped"}))

			err := orch.SendMessage(ctx, "nope", "C1", "buyer", "x")
			Expect(errors.Is(err, orchestrator.ErrNotRunning)).To(BeTrue())
		})
	})

	Describe("UpdateCredential", func() {
		JustBeforeEach(func() {
			_, err := orch.AddAccount(ctx, "A1", credA, 1)
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.AddAccount(ctx, "B1", credB, 1)
			Expect(err).NotTo(HaveOccurred())
			Eventually(stateOf("A1")).Should(Equal(orchestrator.StateRunning))
			Eventually(stateOf("B1")).Should(Equal(orchestrator.StateRunning))
		})

		It("does not restart when the credential is unchanged", func() {
			restarted, err := orch.UpdateCredential(ctx, "A1", credential.FromString(credA.Raw()))
			Expect(err).NotTo(HaveOccurred())
			Expect(restarted).To(BeFalse())

			sess := dialer.latest("A1")
			Consistently(func() int32 { return sess.closes.Load() }, 50*time.Millisecond).Should(BeZero())
			Expect(sess.connects.Load()).To(Equal(int32(1)))
			Expect(dialer.dials("A1")).To(Equal(1))
		})

		It("restarts only the changed account", func() {
			first := dialer.latest("A1")
			sibling := dialer.latest("B1")

			restarted, err := orch.UpdateCredential(ctx, "A1", credential.FromString("unb=1001; t=new"))
			Expect(err).NotTo(HaveOccurred())
			Expect(restarted).To(BeTrue())

			Expect(first.closes.Load()).To(Equal(int32(1)))
			Eventually(func() int { return dialer.dials("A1") }).Should(Equal(2))
			Expect(dialer.latest("A1").cred.Raw()).To(Equal("unb=1001; t=new"))
			Eventually(stateOf("A1")).Should(Equal(orchestrator.StateRunning))

			Consistently(func() int32 { return sibling.closes.Load() }, 50*time.Millisecond).Should(BeZero())
			Expect(dialer.dials("B1")).To(Equal(1))
		})

		It("reports unknown accounts", func() {
			_, err := orch.UpdateCredential(ctx, "missing", credA)
			Expect(errors.Is(err, orchestrator.ErrNotFound)).To(BeTrue())
		})
	})

	Describe("RemoveAccount and SetEnabled", func() {
		JustBeforeEach(func() {
			_, err := orch.AddAccount(ctx, "A1", credA, 1)
			Expect(err).NotTo(HaveOccurred())
			Eventually(stateOf("A1")).Should(Equal(orchestrator.StateRunning))
		})

		It("closes the session before deleting", func() {
			sess := dialer.latest("A1")
			Expect(orch.RemoveAccount(ctx, "A1")).To(Succeed())

			Expect(sess.closes.Load()).To(Equal(int32(1)))
			_, tracked := orch.Status("A1")
			Expect(tracked).To(BeFalse())
			_, err := st.GetAccount(ctx, "A1")
			Expect(err).To(HaveOccurred())
		})

		It("is idempotent", func() {
			Expect(orch.RemoveAccount(ctx, "A1")).To(Succeed())
			Expect(orch.RemoveAccount(ctx, "A1")).To(Succeed())
			Expect(orch.RemoveAccount(ctx, "never-added")).To(Succeed())
		})

		It("stops on disable and starts again on enable", func() {
			sess := dialer.latest("A1")
			Expect(orch.SetEnabled(ctx, "A1", false)).To(Succeed())
			Expect(sess.closes.Load()).To(Equal(int32(1)))
			Expect(stateOf("A1")()).To(Equal(orchestrator.StateStopped))

			Expect(orch.SetEnabled(ctx, "A1", true)).To(Succeed())
			Eventually(stateOf("A1")).Should(Equal(orchestrator.StateRunning))
			Expect(dialer.dials("A1")).To(Equal(2))

			Expect(orch.SetEnabled(ctx, "A1", true)).To(Succeed())
			Expect(dialer.dials("A1")).To(Equal(2))
		})
	})

	Describe("connection failures", func() {
		It("gives up after the configured number of consecutive failures", func() {
			dialer.connectErrFn = func(string) error { return errBoom }
			st.put(model.Account{ID: "A1", OwnerID: 1, Credential: credA, Enabled: true})

			Expect(orch.Start(ctx)).To(Succeed())

			Eventually(func() bool {
				_, ok := reporter.last("A1", orchestrator.EventFatal)
				return ok
			}).Should(BeTrue())
			Expect(dialer.dials("A1")).To(Equal(cfg.MaxConsecutiveFailures))
			Expect(stateOf("A1")()).To(Equal(orchestrator.StateStopped))

			ev, _ := reporter.last("A1", orchestrator.EventFatal)
			Expect(errors.Is(ev.Err, orchestrator.ErrFatal)).To(BeTrue())
			Expect(reporter.kinds("A1")).To(ContainElement(orchestrator.EventReconnecting))

			for _, s := range dialer.all("A1") {
				Expect(s.closes.Load()).To(Equal(int32(1)))
			}
		})

		It("stops immediately when the credential is rejected", func() {
			dialer.connectErrFn = func(string) error { return livesession.ErrCredentialRejected }
			st.put(model.Account{ID: "A1", OwnerID: 1, Credential: credA, Enabled: true})

			Expect(orch.Start(ctx)).To(Succeed())

			Eventually(func() bool {
				_, ok := reporter.last("A1", orchestrator.EventFatal)
				return ok
			}).Should(BeTrue())
			Expect(dialer.dials("A1")).To(Equal(1))
			Expect(reporter.kinds("A1")).NotTo(ContainElement(orchestrator.EventReconnecting))
		})

		It("reconnects after the stream drops", func() {
			_, err := orch.AddAccount(ctx, "A1", credA, 1)
			Expect(err).NotTo(HaveOccurred())
			Eventually(stateOf("A1")).Should(Equal(orchestrator.StateRunning))

			Expect(dialer.latest("A1").Close()).To(Succeed())

			Eventually(func() int { return dialer.dials("A1") }).Should(Equal(2))
			Eventually(stateOf("A1")).Should(Equal(orchestrator.StateRunning))
		})
	})

	Describe("ReloadFromStore", func() {
		It("starts new, stops removed and restarts changed accounts", func() {
			st.put(model.Account{ID: "keep", OwnerID: 1, Credential: credA, Enabled: true})
			st.put(model.Account{ID: "gone", OwnerID: 1, Credential: credB, Enabled: true})
			Expect(orch.Start(ctx)).To(Succeed())
			Eventually(stateOf("keep")).Should(Equal(orchestrator.StateRunning))
			Eventually(stateOf("gone")).Should(Equal(orchestrator.StateRunning))

			Expect(st.DeleteAccount(ctx, "gone")).To(Succeed())
			st.put(model.Account{ID: "new", OwnerID: 1, Credential: credB, Enabled: true})
			st.put(model.Account{ID: "off", OwnerID: 1, Credential: credB, Enabled: false})

			res, err := orch.ReloadFromStore(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Started).To(Equal([]string{"new"}))
			Expect(res.Stopped).To(Equal([]string{"gone"}))
			Expect(res.Restarted).To(BeEmpty())
			Expect(dialer.dials("off")).To(BeZero())
			Expect(dialer.dials("keep")).To(Equal(1))

			changed := credential.FromString("unb=1001; t=restored")
			st.put(model.Account{ID: "keep", OwnerID: 1, Credential: changed, CredentialVersion: 2, Enabled: true})

			res, err = orch.ReloadFromStore(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Restarted).To(Equal([]string{"keep"}))
			Eventually(func() int { return dialer.dials("keep") }).Should(Equal(2))
		})

		Context("when admin operations land while the store is listed", func() {
			var once sync.Once

			BeforeEach(func() {
				once = sync.Once{}
			})

			during := func(fn func()) {
				st.mu.Lock()
				st.afterList = func() { once.Do(fn) }
				st.mu.Unlock()
			}

			It("does not start an account removed meanwhile", func() {
				st.put(model.Account{ID: "X", OwnerID: 1, Credential: credA, Enabled: true})
				during(func() {
					defer GinkgoRecover()
					Expect(orch.RemoveAccount(ctx, "X")).To(Succeed())
				})

				res, err := orch.ReloadFromStore(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Started).To(BeEmpty())

				_, tracked := orch.Status("X")
				Expect(tracked).To(BeFalse())
				Expect(dialer.dials("X")).To(BeZero())
			})

			It("does not start an account disabled meanwhile", func() {
				st.put(model.Account{ID: "X", OwnerID: 1, Credential: credA, Enabled: true})
				during(func() {
					defer GinkgoRecover()
					Expect(orch.SetEnabled(ctx, "X", false)).To(Succeed())
				})

				res, err := orch.ReloadFromStore(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Started).To(BeEmpty())
				Expect(dialer.dials("X")).To(BeZero())
			})

			It("does not stop an account enabled meanwhile", func() {
				_, err := orch.AddAccount(ctx, "X", credA, 1)
				Expect(err).NotTo(HaveOccurred())
				Eventually(stateOf("X")).Should(Equal(orchestrator.StateRunning))

				Expect(st.SetEnabled(ctx, "X", false)).To(Succeed())
				during(func() {
					defer GinkgoRecover()
					Expect(orch.SetEnabled(ctx, "X", true)).To(Succeed())
				})

				res, err := orch.ReloadFromStore(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Stopped).To(BeEmpty())
				Expect(stateOf("X")()).To(Equal(orchestrator.StateRunning))
				Expect(dialer.latest("X").closes.Load()).To(BeZero())
			})

			It("keeps a credential updated meanwhile", func() {
				_, err := orch.AddAccount(ctx, "X", credA, 1)
				Expect(err).NotTo(HaveOccurred())
				Eventually(stateOf("X")).Should(Equal(orchestrator.StateRunning))

				fresh := credential.FromString("unb=1001; t=fresh")
				during(func() {
					defer GinkgoRecover()
					restarted, err := orch.UpdateCredential(ctx, "X", fresh)
					Expect(err).NotTo(HaveOccurred())
					Expect(restarted).To(BeTrue())
				})

				res, err := orch.ReloadFromStore(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Restarted).To(BeEmpty())
				Eventually(func() int { return dialer.dials("X") }).Should(Equal(2))
				Consistently(func() int { return dialer.dials("X") }, 50*time.Millisecond).Should(Equal(2))
				Expect(dialer.latest("X").cred.Raw()).To(Equal(fresh.Raw()))
			})
		})

		It("converges on the stored credential under concurrent updates", func() {
			_, err := orch.AddAccount(ctx, "X", credA, 1)
			Expect(err).NotTo(HaveOccurred())
			Eventually(stateOf("X")).Should(Equal(orchestrator.StateRunning))

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(2)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := orch.UpdateCredential(ctx, "X", credential.FromString(fmt.Sprintf("unb=1001; t=%d", i)))
					Expect(err).NotTo(HaveOccurred())
				}()
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := orch.ReloadFromStore(ctx)
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			stored, err := st.GetAccount(ctx, "X")
			Expect(err).NotTo(HaveOccurred())
			Eventually(stateOf("X")).Should(Equal(orchestrator.StateRunning))
			Eventually(func() string { return dialer.latest("X").cred.Raw() }).Should(Equal(stored.Credential.Raw()))
		})
	})

	Describe("keyword validation", func() {
		JustBeforeEach(func() {
			st.put(model.Account{ID: "A1", OwnerID: 1, Credential: credA})
		})

		It("rejects duplicates across text and image rules", func() {
			_, err := orch.AddImageKeyword(ctx, "A1", "photo", nil, "https://img/1.jpg")
			Expect(err).NotTo(HaveOccurred())

			err = orch.UpdateKeywords(ctx, "A1", []model.KeywordRule{{Keyword: "photo", Reply: "text"}})
			Expect(errors.Is(err, orchestrator.ErrConflict)).To(BeTrue())

			err = orch.UpdateKeywords(ctx, "A1", []model.KeywordRule{{Keyword: "a", Reply: "1"}, {Keyword: "a", Reply: "2"}})
			Expect(errors.Is(err, orchestrator.ErrConflict)).To(BeTrue())

			item := "IT1"
			Expect(orch.UpdateKeywords(ctx, "A1", []model.KeywordRule{{Keyword: "a", Reply: "1"}, {Keyword: "a", Reply: "2", ItemID: &item}})).To(Succeed())

			rules, _ := st.GetKeywordRules(ctx, "A1")
			Expect(rules).To(HaveLen(3))
			Expect(rules[0].Kind).To(Equal(model.KeywordKindImage))
		})

		It("removes a rule of either kind by its scope", func() {
			item := "IT1"
			_, err := orch.AddImageKeyword(ctx, "A1", "photo", &item, "https://img/1.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(orch.UpdateKeywords(ctx, "A1", []model.KeywordRule{{Keyword: "a", Reply: "1"}, {Keyword: "photo", Reply: "2"}})).To(Succeed())

			Expect(orch.RemoveKeywordRule(ctx, "A1", "photo", &item)).To(Succeed())

			rules, _ := st.GetKeywordRules(ctx, "A1")
			Expect(rules).To(HaveLen(2))
			Expect(rules).To(HaveEach(HaveField("Kind", model.KeywordKindText)))
			Expect(rules[0].Keyword).To(Equal("a"))

			err = orch.RemoveKeywordRule(ctx, "A1", "photo", &item)
			Expect(errors.Is(err, orchestrator.ErrNotFound)).To(BeTrue())

			Expect(orch.RemoveKeywordRule(ctx, "A1", "photo", nil)).To(Succeed())
			rules, _ = st.GetKeywordRules(ctx, "A1")
			Expect(rules).To(HaveLen(1))
		})

		It("accepts keywords that only collide under string joining", func() {
			item := "b"
			_, err := orch.AddImageKeyword(ctx, "A1", "a", &item, "https://img/1.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(orch.UpdateKeywords(ctx, "A1", []model.KeywordRule{{Keyword: "a|b", Reply: "x"}})).To(Succeed())
		})

		It("stores the account remark", func() {
			Expect(orch.SetRemark(ctx, "A1", "main shop")).To(Succeed())
			acct, err := st.GetAccount(ctx, "A1")
			Expect(err).NotTo(HaveOccurred())
			Expect(acct.Remark).To(Equal("main shop"))

			err = orch.SetRemark(ctx, "A1", strings.Repeat("x", orchestrator.MaxRemarkLength+1))
			Expect(errors.Is(err, orchestrator.ErrConfiguration)).To(BeTrue())

			err = orch.SetRemark(ctx, "missing", "x")
			Expect(errors.Is(err, orchestrator.ErrNotFound)).To(BeTrue())
		})

		It("rejects negative pause durations", func() {
			err := orch.SetPauseDuration(ctx, "A1", -1)
			Expect(errors.Is(err, orchestrator.ErrConfiguration)).To(BeTrue())
			Expect(orch.SetPauseDuration(ctx, "A1", 0)).To(Succeed())
		})
	})

	It("closes every session on shutdown", func() {
		st.put(model.Account{ID: "A1", OwnerID: 1, Credential: credA, Enabled: true})
		st.put(model.Account{ID: "B1", OwnerID: 1, Credential: credB, Enabled: true})
		Expect(orch.Start(ctx)).To(Succeed())
		Eventually(stateOf("A1")).Should(Equal(orchestrator.StateRunning))
		Eventually(stateOf("B1")).Should(Equal(orchestrator.StateRunning))

		Expect(orch.Shutdown(ctx)).To(Succeed())
		Expect(dialer.latest("A1").closes.Load()).To(Equal(int32(1)))
		Expect(dialer.latest("B1").closes.Load()).To(Equal(int32(1)))

		_, err := orch.AddAccount(ctx, "C1", credA, 1)
		Expect(errors.Is(err, orchestrator.ErrShuttingDown)).To(BeTrue())
	})
})
