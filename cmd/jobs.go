package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/axiomedu/ms-go-billing/app/service"
	"github.com/axiomedu/ms-go-billing/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	workerMode   bool
	billingForce bool
)

var billingCmd = &cobra.Command{
	Use:   "billing",
	Short: "Run recurring billing commands",
}

var billingRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Charge active recurring profiles that are due",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"billing_run",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.BillingInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				result, err := s.ProcessDuePayments(ctx, billingForce)
				if err != nil {
					return err
				}
				logBillingResult("billing_run", result)
				return nil
			},
		)
	},
}

var billingRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-attempt recently failed recurring charges",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"billing_retry",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.RetryInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				result, err := s.RetryFailedPayments(ctx, 0)
				if err != nil {
					return err
				}
				logBillingResult("billing_retry", result)
				return nil
			},
		)
	},
}

var refundsCmd = &cobra.Command{
	Use:   "refunds",
	Short: "Run refund related commands",
}

var refundsReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resolve refunds stuck in pending or processing",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"refunds_reconcile",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.RefundReconcileInterval },
			func(s *service.PaymentService, ctx context.Context) error {
				resolved, err := s.ReconcilePendingRefunds(ctx)
				logrus.WithField("job", "refunds_reconcile").WithField("resolved", resolved).Info("refunds_reconciled")
				return err
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(billingCmd)
	rootCmd.AddCommand(refundsCmd)
	billingCmd.AddCommand(billingRunCmd)
	billingCmd.AddCommand(billingRetryCmd)
	refundsCmd.AddCommand(refundsReconcileCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
	billingRunCmd.Flags().BoolVar(&billingForce, "force", false, "Ignore the calendar-date bound when selecting due profiles")
}

func logBillingResult(job string, result *service.BillingRunResult) {
	entry := logrus.WithFields(logrus.Fields{
		"job":       job,
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	})
	if len(result.Errors) > 0 {
		entry = entry.WithField("errors", result.Errors)
	}
	entry.Info("billing_pass_completed")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *service.PaymentService, ctx context.Context) error,
) {
	cfg, paymentService, cleanup := mustCreatePaymentService()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(cfg), paymentService, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(paymentService, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	paymentService *service.PaymentService,
	fn func(s *service.PaymentService, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(paymentService, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(paymentService, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
