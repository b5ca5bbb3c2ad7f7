package cmd

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/banlv/banlv/internal/agent"
	"github.com/banlv/banlv/internal/stream"
)

// runChat starts an interactive conversation against a running serve
// instance. The stream client and reducer carry the session state, so
// regeneration and cancellation behave exactly as in a web client.
func runChat(args []string) error {
	chatFlags := flag.NewFlagSet("chat", flag.ContinueOnError)
	addr := chatFlags.String("addr", "http://localhost:8080", "base URL of the banlv server")
	if err := chatFlags.Parse(args); err != nil {
		return err
	}

	logger := initLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := stream.NewClient(*addr, logger)
	conv, err := stream.NewConversation(client.Sender(true), logger,
		stream.WithEventHook(printEvent))
	if err != nil {
		return fmt.Errorf("initializing conversation: %w", err)
	}
	defer conv.Cancel()

	fmt.Printf("伴旅 v%s 交互模式（%s）\n", Version, *addr)
	fmt.Println("输入 /regen 重新生成上一条回答，/exit 退出，Ctrl+C 中断当前回答。")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n再见！")
			return nil
		default:
		}

		fmt.Print("你: ")
		if !scanner.Scan() {
			fmt.Println("\n再见！")
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch input {
		case "/exit", "/quit":
			fmt.Println("再见！")
			return nil
		case "/regen":
			if err := regenerateLast(ctx, conv); err != nil {
				fmt.Fprintf(os.Stderr, "重新生成失败: %v\n", err)
			}
			continue
		}

		fmt.Print("伴旅: ")
		if _, err := conv.Send(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "发送失败: %v\n", err)
			continue
		}
		conv.Wait()
		fmt.Println()
	}
}

// regenerateLast re-runs the most recent assistant turn.
func regenerateLast(ctx context.Context, conv *stream.Conversation) error {
	msgs := conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != agent.RoleAssistant {
			continue
		}
		fmt.Print("伴旅: ")
		if _, err := conv.Regenerate(ctx, msgs[i].ID); err != nil {
			fmt.Println()
			return err
		}
		conv.Wait()
		fmt.Println()
		return nil
	}
	return fmt.Errorf("还没有可以重新生成的回答")
}

func printEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventContent:
		fmt.Print(ev.Content)
	case agent.EventToolStart:
		name := ev.DisplayName
		if name == "" {
			name = ev.Name
		}
		fmt.Printf("\n  [正在调用 %s...]\n", name)
	case agent.EventToolEnd:
		if ev.Err != "" {
			fmt.Printf("  [%s 调用失败: %s]\n", ev.Name, ev.Err)
		}
	case agent.EventError:
		fmt.Printf("\n出错了: %s\n", ev.Err)
	}
}
