// chatprobe 是一个命令行聊天客户端，用于手动验证离线队列与断线重连。
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/model/chat"
	"github.com/zhouzirui/supportdesk/backend/internal/service/chatclient"
	"github.com/zhouzirui/supportdesk/backend/internal/service/network"
	"github.com/zhouzirui/supportdesk/backend/internal/service/queue"
	"github.com/zhouzirui/supportdesk/backend/internal/store"
)

type probeOptions struct {
	baseURL   string
	transport string
	session   string
	queueDB   string
	verbose   bool
}

func newRootCmd() *cobra.Command {
	opts := &probeOptions{}
	cmd := &cobra.Command{
		Use:   "chatprobe",
		Short: "Interactive support chat client",
		Long: "Connects to a running supportd API and relays stdin lines as chat messages. " +
			"Commands: /status, /retry <queue-id>, /flush, /clear, /quit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, opts)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "supportd API base URL")
	cmd.Flags().StringVar(&opts.transport, "transport", "ws", "transport: ws 或 http")
	cmd.Flags().StringVar(&opts.session, "session", "", "resume an existing session id")
	cmd.Flags().StringVar(&opts.queueDB, "queue-db", "", "SQLite file that keeps the offline queue between runs (默认内存)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func runProbe(cmd *cobra.Command, opts *probeOptions) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := zap.NewNop()
	if opts.verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := newTransport(opts)
	if err != nil {
		return err
	}

	storeCfg := store.Config{Driver: "memory"}
	if opts.queueDB != "" {
		storeCfg = store.Config{Driver: "sqlite", SQLitePath: opts.queueDB}
	}
	kv, err := store.Open(ctx, storeCfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	defer kv.Close()

	q := queue.New(ctx, kv, cfg.Queue, logger)
	defer q.Close()

	base := strings.TrimRight(opts.baseURL, "/")
	monitor := network.NewMonitor(network.HTTPProber{URL: base + "/healthz"}, cfg.Network, logger, nil)
	go func() { _ = monitor.Run(ctx) }()

	client := chatclient.New(transport, monitor, q, cfg.Client, logger)
	defer client.Close()

	out := cmd.OutOrStdout()
	client.OnMessage(func(m chat.Message) { printMessage(out, m) })
	client.OnStatusChange(func(s chatclient.State) { fmt.Fprintf(out, "[state] %s\n", s) })
	client.OnNetworkChange(func(s network.Status) { fmt.Fprintf(out, "[network] %s\n", s) })
	client.OnQueueSizeChange(func(n int) { fmt.Fprintf(out, "[queue] %d pending\n", n) })

	if err := client.Connect(ctx, opts.session); err != nil {
		fmt.Fprintf(out, "[warn] connect failed, messages will be queued: %v\n", err)
	} else {
		fmt.Fprintf(out, "[session] %s\n", client.SessionID())
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, out, client, line); quit {
				return nil
			}
		}
	}
}

func newTransport(opts *probeOptions) (chatclient.Transport, error) {
	base := strings.TrimRight(opts.baseURL, "/")
	switch opts.transport {
	case "http":
		return chatclient.HTTPTransport{BaseURL: base, Client: &http.Client{Timeout: 30 * time.Second}}, nil
	case "ws":
		wsURL := "ws" + strings.TrimPrefix(base, "http") + "/chat/ws"
		return chatclient.WSTransport{URL: wsURL}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", opts.transport)
	}
}

func handleLine(ctx context.Context, out io.Writer, client *chatclient.Client, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case line == "/status":
		st := client.QueueStatus()
		fmt.Fprintf(out, "[status] state=%s session=%s queue total=%d pending=%d failed=%d\n",
			client.State(), client.SessionID(), st.Total, st.Pending, st.Failed)
	case line == "/flush":
		if err := client.ProcessQueue(ctx); err != nil {
			fmt.Fprintf(out, "[error] %v\n", err)
		}
	case line == "/clear":
		client.ClearQueue(ctx)
	case strings.HasPrefix(line, "/retry "):
		if err := client.Retry(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/retry "))); err != nil {
			fmt.Fprintf(out, "[error] %v\n", err)
		}
	default:
		msg, err := client.SendMessage(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "[error] %v\n", err)
			return false
		}
		if msg.Status != chat.StatusSent {
			fmt.Fprintf(out, "[queued] %s (%s)\n", msg.QueueID, msg.Status)
		}
	}
	return false
}

func printMessage(out io.Writer, m chat.Message) {
	if m.Kind() == chat.KindTyping {
		fmt.Fprintln(out, "... typing")
		return
	}
	fmt.Fprintf(out, "[%s] %s\n", m.Sender, m.Text)
	for _, action := range m.SuggestedActions() {
		fmt.Fprintf(out, "    > %s\n", action)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
