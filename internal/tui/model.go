package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"policyrag/internal/conversation"
	"policyrag/internal/domain"
)

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryError
)

// entry is one line of the transcript. Error entries are display-only
// and never part of the session history.
type entry struct {
	kind entryKind
	text string
}

type answerMsg struct {
	query  string
	answer string
	err    error
}

// Model is the Bubble Tea chat UI. One turn is in flight at a time;
// input submitted while busy is ignored.
type Model struct {
	ctx       context.Context
	assistant domain.Assistant
	session   *conversation.Session

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	title   string
	summary string
	status  string
	entries []entry
	busy    bool
	ready   bool
}

type Options struct {
	Title   string
	Summary string
}

func New(ctx context.Context, assistant domain.Assistant, session *conversation.Session, opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the credit policy and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	if opts.Title == "" {
		opts.Title = "Policy Assistant"
	}
	return Model{
		ctx:       ctx,
		assistant: assistant,
		session:   session,
		input:     ti,
		viewport:  viewport.New(0, 0),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		title:     opts.Title,
		summary:   opts.Summary,
		status:    "Ready. Ctrl+C to quit.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around the transcript and input boxes
		_, th := transcriptBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + 1 + ih + 1 // header + summary, status, spacer
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, msg.Height-reserved-th-1)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.input.Reset()
			m.busy = true
			m.status = "Searching the manual..."
			m.entries = append(m.entries, entry{kind: entryUser, text: q})
			m.refresh()
			return m, tea.Batch(m.ask(q), m.spinner.Tick)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.entries = append(m.entries, entry{kind: entryError, text: "Error: " + msg.err.Error()})
			m.status = "The last question failed; it was not added to the conversation."
		} else {
			m.entries = append(m.entries, entry{kind: entryAssistant, text: msg.answer})
			m.status = fmt.Sprintf("%d turns in this session.", m.session.Len()/2)
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs the turn off the UI goroutine. The session commits the
// exchange only when it succeeds.
func (m Model) ask(q string) tea.Cmd {
	ctx, assistant, session := m.ctx, m.assistant, m.session
	return func() tea.Msg {
		answer, err := session.Ask(ctx, assistant, q)
		return answerMsg{query: q, answer: answer, err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render(m.title)
	summary := summaryStyle.Render(m.summary)
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" + summary + "\n" +
		transcriptBoxStyle.Render(m.viewport.View()) + "\n" +
		inputBoxStyle.Render(m.input.View()) + "\n" +
		statusStyle.Render(status)
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return summaryStyle.Render("No questions yet.")
	}
	width := max(20, m.viewport.Width)
	var lastQuery string
	blocks := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		switch e.kind {
		case entryUser:
			lastQuery = e.text
			blocks = append(blocks, userStyle.Width(width).Render("You: "+e.text))
		case entryAssistant:
			blocks = append(blocks, lipgloss.NewStyle().Width(width).Render(
				assistantLabel.Render("Assistant: ")+highlightBestSentence(e.text, lastQuery)))
		case entryError:
			blocks = append(blocks, errorStyle.Width(width).Render(e.text))
		}
	}
	return strings.Join(blocks, "\n\n")
}

var (
	titleStyle         = lipgloss.NewStyle().Bold(true)
	summaryStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	assistantLabel     = lipgloss.NewStyle().Bold(true)
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe      = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe         = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
)

// highlightBestSentence emphasises the answer sentence sharing the most
// words with the question. Single-sentence answers are left as is.
func highlightBestSentence(text, query string) string {
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) < 2 {
		return text
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	bestIdx, bestScore := 0, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestScore == 0 {
		return text
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
