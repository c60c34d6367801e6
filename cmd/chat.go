package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/scentmatch/internal/assistant"
	"github.com/spigell/scentmatch/internal/intent"
	"github.com/spigell/scentmatch/internal/logger"
	"github.com/spigell/scentmatch/internal/orchestrator"
)

const shutdownTimeout = 5 * time.Second

var exitWords = map[string]bool{"exit": true, "quit": true, "bye": true}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the perfume assistant",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e := setup()
		defer e.close()

		r, err := e.newResolver()
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}

		nc, err := e.openCache()
		if err != nil {
			return fmt.Errorf("opening cache: %w", err)
		}

		ret, err := e.newRetriever(nc, nil)
		if err != nil {
			return err
		}

		generator, err := e.newGenerator(ctx)
		if err != nil {
			return err
		}

		deps := &orchestrator.Deps{
			Resolver:   r,
			Classifier: intent.NewClassifier(),
			Notes:      ret,
			Generator:  generator,
			Logger:     logger.WithComponent(e.logger, "orchestrator"),
		}

		finder, err := e.newArticleFinder(ctx)
		if err != nil {
			e.logger.Warn("article search disabled", zap.Error(err))
		}
		if finder != nil {
			deps.Articles = finder
		}

		o, err := orchestrator.New(deps)
		if err != nil {
			return err
		}

		if addr := strings.TrimSpace(e.config.MetricsAddr); addr != "" {
			stop := serveMetrics(addr, e.metrics.Handler(), e.logger)
			defer stop()
		}

		return chatLoop(ctx, cmd, o, e.logger)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	viper.BindPFlag("metrics-addr", chatCmd.Flags().Lookup("metrics-addr"))
}

func chatLoop(ctx context.Context, cmd *cobra.Command, o *orchestrator.Orchestrator, log *zap.Logger) error {
	prompt := promptui.Prompt{Label: "You"}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Ask about perfume notes, layering or reviews. Type exit to leave.")

	var history []assistant.Message
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if exitWords[strings.ToLower(line)] {
			return nil
		}

		resp, err := o.Handle(ctx, orchestrator.Request{Utterance: line, History: history})
		if err != nil {
			log.Error("answering", zap.Error(err))
			fmt.Fprintln(out, "Sorry, I could not answer that right now.")
			continue
		}

		history = resp.History
		fmt.Fprintf(out, "\n%s\n\n", resp.Reply)
	}
}

// serveMetrics exposes handler on addr until the returned stop is called.
func serveMetrics(addr string, handler http.Handler, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
