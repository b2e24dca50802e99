// Command netcoredemo is a bubbletea shell that exercises the network core
// end to end: fetch_captcha, signup, login, connect_chat, send_chat_message,
// and cancel, all driven from a single text prompt. Every façade callback
// publishes onto the shell's own bus.Bus rather than touching the TUI model
// directly, so a callback invoked on the core's own goroutine never races
// bubbletea's update loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/server-client-editor/ClientSide/internal/bus"
	"github.com/server-client-editor/ClientSide/internal/netcore"
	"github.com/server-client-editor/ClientSide/internal/netconfig"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the network core config")
	flag.Parse()

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(os.Stderr, "netcoredemo: stdout is not a terminal, refusing to start the TUI")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := netconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netcoredemo: load config: %v\n", err)
		os.Exit(1)
	}

	caPEM, err := netconfig.LoadRootCAs(cfg.CertPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netcoredemo: load root CAs: %v\n", err)
		os.Exit(1)
	}
	rootCAs, err := netcore.BuildRootCAs(caPEM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "netcoredemo: build root CA pool: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	eventBus := bus.New()
	core := netcore.NewCore(cfg.RESTBaseURL, cfg.WSURL, rootCAs, logger)
	defer core.Shutdown(cfg.ShutdownDrain())

	shell := newShellModel(ctx, cfg, core, eventBus)
	p := tea.NewProgram(shell, tea.WithAltScreen(), tea.WithInput(os.Stdin), tea.WithOutput(os.Stdout))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "netcoredemo: %v\n", err)
		os.Exit(1)
	}
}

type ctxDoneMsg struct{}

type busEventMsg struct {
	event bus.Event
}

type shellModel struct {
	ctx      context.Context
	cfg      netconfig.Config
	core     *netcore.Core
	eventBus *bus.Bus
	events   *bus.Subscription

	input   string
	history []string

	accessToken string
}

func newShellModel(ctx context.Context, cfg netconfig.Config, core *netcore.Core, eventBus *bus.Bus) shellModel {
	return shellModel{
		ctx:      ctx,
		cfg:      cfg,
		core:     core,
		eventBus: eventBus,
		events:   eventBus.Subscribe(""),
		history:  []string{"netcoredemo ready. Try /captcha, /login, /connect, /send, /quit."},
	}
}

func (m shellModel) Init() tea.Cmd {
	return tea.Batch(waitCtxDone(m.ctx), waitForBusEvent(m.events))
}

func waitCtxDone(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return ctxDoneMsg{}
	}
}

func waitForBusEvent(sub *bus.Subscription) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub.Ch()
		if !ok {
			return nil
		}
		return busEventMsg{event: event}
	}
}

func (m shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ctxDoneMsg:
		return m, tea.Quit

	case busEventMsg:
		if msg.event.Topic == bus.TopicLogin {
			if login, ok := msg.event.Payload.(netcore.WithGeneration[netcore.LoginEvent]); ok && login.Payload.Err == nil {
				m.accessToken = login.Payload.AccessToken
			}
		}
		m.history = append(m.history, formatBusEvent(msg.event))
		return m, waitForBusEvent(m.events)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input
			m.input = ""
			m.history = append(m.history, "> "+line)
			return m.runCommand(line)
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
			return m, nil
		case tea.KeySpace:
			m.input += " "
			return m, nil
		case tea.KeyRunes:
			m.input += string(msg.Runes)
			return m, nil
		}
	}
	return m, nil
}

func (m shellModel) runCommand(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return m, nil
	}

	switch fields[0] {
	case "/quit":
		return m, tea.Quit

	case "/captcha":
		m.core.FetchCaptcha(m.cfg.RequestTimeout(),
			func(wg netcore.WithGeneration[netcore.CaptchaEvent]) {
				m.publishCaptcha(wg)
			},
			func(wg netcore.WithGeneration[netcore.NetworkError]) {
				m.publishError(wg, "captcha")
			},
		)

	case "/login":
		if len(fields) != 5 {
			m.history = append(m.history, "usage: /login <username> <password> <captcha_id> <captcha_answer>")
			return m, nil
		}
		eventBus := m.eventBus
		m.core.Login(fields[1], fields[2], fields[3], fields[4], m.cfg.RequestTimeout(),
			func(wg netcore.WithGeneration[netcore.LoginEvent]) {
				eventBus.Publish(bus.TopicLogin, wg)
			},
			func(wg netcore.WithGeneration[netcore.NetworkError]) {
				eventBus.Publish(bus.TopicError, bus.ErrorEventPayload{
					Generation: uint64(wg.Generation),
					Kind:       wg.Payload.Kind.String(),
					Message:    "login: " + wg.Payload.Error(),
				})
			},
		)

	case "/connect":
		token := m.accessToken
		if len(fields) == 2 {
			token = fields[1]
		}
		if token == "" {
			m.history = append(m.history, "no access token: /login first or pass one explicitly")
			return m, nil
		}
		eventBus := m.eventBus
		_, err := m.core.ConnectChat(token, func(chatMsg netcore.ChatMessage) {
			eventBus.Publish(bus.TopicStream, bus.ChatEventPayload{
				SessionGeneration: 0,
				From:              chatMsg.Sender.String(),
				Body:              chatMsg.Content,
			})
		}, m.cfg.RequestTimeout(),
			func(wg netcore.WithGeneration[netcore.SessionEvent]) {
				m.publishSession(wg)
			},
			func(wg netcore.WithGeneration[netcore.NetworkError]) {
				m.publishError(wg, "session")
			},
		)
		if err != nil {
			m.history = append(m.history, "connect_chat rejected: "+err.Error())
		}

	case "/send":
		if len(fields) < 3 {
			m.history = append(m.history, "usage: /send <conversation_id> <text...>")
			return m, nil
		}
		conversationID, err := uuid.Parse(fields[1])
		if err != nil {
			m.history = append(m.history, "invalid conversation id: "+err.Error())
			return m, nil
		}
		content := strings.Join(fields[2:], " ")
		m.core.SendChatMessage(conversationID, content, m.cfg.SendTimeout(),
			func(wg netcore.WithGeneration[netcore.ChatEvent]) {
				m.publishChatSend(wg)
			},
			func(wg netcore.WithGeneration[netcore.NetworkError]) {
				m.publishError(wg, "send")
			},
		)

	case "/cancel":
		if len(fields) != 2 {
			m.history = append(m.history, "usage: /cancel <generation>")
			return m, nil
		}
		n, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			m.history = append(m.history, "invalid generation: "+err.Error())
			return m, nil
		}
		if ok := m.core.Cancel(netcore.Generation(n)); !ok {
			m.history = append(m.history, "cancel: generation not found")
		}

	default:
		m.history = append(m.history, "unrecognized command: "+fields[0])
	}

	return m, nil
}

// publishCaptcha, publishSession, publishChatSend, and publishError adapt a
// façade callback's typed payload into the bus's topic/payload shape,
// mirroring the teacher's pattern of routing async work through channels the
// UI owns rather than mutating shared state inline.
func (m shellModel) publishCaptcha(wg netcore.WithGeneration[netcore.CaptchaEvent]) {
	m.eventBus.Publish(bus.TopicCaptcha, wg)
}

func (m shellModel) publishSession(wg netcore.WithGeneration[netcore.SessionEvent]) {
	m.eventBus.Publish(bus.TopicSession, wg)
}

func (m shellModel) publishChatSend(wg netcore.WithGeneration[netcore.ChatEvent]) {
	m.eventBus.Publish(bus.TopicChat, wg)
}

func (m shellModel) publishError(wg netcore.WithGeneration[netcore.NetworkError], origin string) {
	m.eventBus.Publish(bus.TopicError, bus.ErrorEventPayload{
		Generation: uint64(wg.Generation),
		Kind:       wg.Payload.Kind.String(),
		Message:    origin + ": " + wg.Payload.Error(),
	})
}

func formatBusEvent(event bus.Event) string {
	return fmt.Sprintf("[%s] %+v", event.Topic, event.Payload)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func (m shellModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("netcoredemo"))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", 40))
	b.WriteString("\n")

	start := 0
	if len(m.history) > 20 {
		start = len(m.history) - 20
	}
	for _, line := range m.history[start:] {
		if strings.Contains(line, "["+bus.TopicError+"]") {
			b.WriteString(errorStyle.Render(line))
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	b.WriteString(promptStyle.Render("\n> " + m.input))
	return b.String()
}
