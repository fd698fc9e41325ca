package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyrag/internal/conversation"
	"policyrag/internal/domain"
)

type fakeAssistant struct {
	answer string
	err    error
}

func (f *fakeAssistant) Answer(context.Context, string, []domain.Turn) (string, error) {
	return f.answer, f.err
}

func sized(m Model) Model {
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func submit(t *testing.T, m Model, q string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(q)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(Model), cmd
}

func TestUpdate_SuccessfulTurn(t *testing.T) {
	session := conversation.NewSession()
	m := sized(New(context.Background(), &fakeAssistant{answer: "The maximum loan term is 30 years."}, session, Options{Summary: "Credit policy"}))

	m, cmd := submit(t, m, "What is the maximum loan term?")
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Equal(t, "", m.input.Value())
	require.Len(t, m.entries, 1)

	msg := m.ask("What is the maximum loan term?")()
	next, _ := m.Update(msg)
	m = next.(Model)

	assert.False(t, m.busy)
	require.Len(t, m.entries, 2)
	assert.Equal(t, entryAssistant, m.entries[1].kind)
	assert.Equal(t, 2, session.Len())
	assert.Contains(t, m.View(), "30 years")
}

func TestUpdate_FailedTurnShownButNotRecorded(t *testing.T) {
	session := conversation.NewSession()
	m := sized(New(context.Background(), &fakeAssistant{err: errors.New("model error: 503")}, session, Options{}))

	m, _ = submit(t, m, "What is the maximum loan term?")
	next, _ := m.Update(m.ask("What is the maximum loan term?")())
	m = next.(Model)

	require.Len(t, m.entries, 2)
	assert.Equal(t, entryError, m.entries[1].kind)
	assert.Contains(t, m.entries[1].text, "503")
	assert.Equal(t, 0, session.Len())
	assert.False(t, m.busy)
}

func TestUpdate_IgnoresInputWhileBusy(t *testing.T) {
	m := sized(New(context.Background(), &fakeAssistant{}, conversation.NewSession(), Options{}))
	m, _ = submit(t, m, "first")
	m, cmd := submit(t, m, "second")
	assert.Nil(t, cmd)
	assert.Len(t, m.entries, 1)
}

func TestUpdate_EmptyInputIgnored(t *testing.T) {
	m := sized(New(context.Background(), &fakeAssistant{}, conversation.NewSession(), Options{}))
	m, cmd := submit(t, m, "   ")
	assert.Nil(t, cmd)
	assert.False(t, m.busy)
}

func TestUpdate_Quit(t *testing.T) {
	m := New(context.Background(), &fakeAssistant{}, conversation.NewSession(), Options{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestView_BeforeSize(t *testing.T) {
	m := New(context.Background(), &fakeAssistant{}, conversation.NewSession(), Options{})
	assert.Equal(t, "Loading...", m.View())
}

func TestHighlightBestSentence(t *testing.T) {
	text := "Loans need a guarantor. The maximum term is 30 years."
	out := highlightBestSentence(text, "maximum term")
	assert.True(t, strings.HasPrefix(out, "Loans need a guarantor."))
	assert.Contains(t, out, "30 years")

	assert.Equal(t, "Single sentence.", highlightBestSentence("Single sentence.", "sentence"))
	assert.Equal(t, text, highlightBestSentence(text, "unrelated"))
}
