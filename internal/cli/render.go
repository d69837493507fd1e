// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/store"
	"github.com/jeranaias/sessionchat/internal/util"
)

// Renderer writes styled REPL output.
type Renderer struct {
	out      io.Writer
	width    int
	markdown *glamour.TermRenderer
}

// NewRenderer creates a renderer for out. width bounds markdown word wrap;
// zero selects the terminal width. Without colors, markdown is rendered
// with the plain "notty" style.
func NewRenderer(out io.Writer, width int) *Renderer {
	if width <= 0 {
		width = GetTerminalWidth()
	}
	if width > MaxRenderWidth {
		width = MaxRenderWidth
	}
	style := glamour.WithStandardStyle("notty")
	if ColorsEnabled() {
		style = glamour.WithAutoStyle()
	}
	md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width-4))
	if err != nil {
		md = nil
	}
	return &Renderer{out: out, width: width, markdown: md}
}

// Markdown renders text as terminal markdown, falling back to the raw text.
func (r *Renderer) Markdown(text string) string {
	if r.markdown == nil {
		return text + "\n"
	}
	rendered, err := r.markdown.Render(text)
	if err != nil {
		return text + "\n"
	}
	return rendered
}

// =============================================================================
// STATUS LINES
// =============================================================================

func (r *Renderer) Println(s string) {
	fmt.Fprintln(r.out, s)
}

func (r *Renderer) Info(format string, args ...interface{}) {
	r.Println(DimStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *Renderer) Success(format string, args ...interface{}) {
	r.Println(SuccessStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *Renderer) Warn(format string, args ...interface{}) {
	r.Println(WarningStyle.Render("! " + fmt.Sprintf(format, args...)))
}

func (r *Renderer) Error(format string, args ...interface{}) {
	r.Println(ErrorStyle.Render("✗ " + fmt.Sprintf(format, args...)))
}

// =============================================================================
// MESSAGES
// =============================================================================

// Reply prints an assistant message. Failed replies show their error and
// a retry hint.
func (r *Renderer) Reply(msg *model.Message) {
	switch msg.Status {
	case model.StatusError:
		r.Error("%s", msg.Error)
		r.Info("  Type /retry to send it again.")
	case model.StatusSending:
		r.Info("… waiting for a reply")
	default:
		fmt.Fprint(r.out, r.Markdown(msg.Text()))
	}
}

// Message prints one numbered message of a transcript.
func (r *Renderer) Message(n int, msg *model.Message) {
	label := AssistantStyle.Render(msg.Role.DisplayName())
	if msg.Role == model.RoleUser {
		label = UserStyle.Render(msg.Role.DisplayName())
	}
	header := fmt.Sprintf("%s %s %s", DimStyle.Render(fmt.Sprintf("[%d]", n)), label,
		DimStyle.Render(msg.Timestamp.Format("15:04")))
	if k := len(msg.Images()); k > 0 {
		header += DimStyle.Render(fmt.Sprintf(" (%d image%s)", k, plural(k)))
	}
	r.Println(header)

	if msg.Role == model.RoleUser {
		r.Println(msg.Text())
		r.Println("")
		return
	}
	r.Reply(msg)
}

// Conversation prints a full transcript.
func (r *Renderer) Conversation(conv *model.Conversation) {
	r.Println(TitleStyle.Render(conv.Title))
	r.Println(RenderSeparator(util.StringWidth(conv.Title)))
	if len(conv.Messages) == 0 {
		r.Info("No messages yet.")
		return
	}
	for i, msg := range conv.Messages {
		r.Message(i+1, msg)
	}
}

// =============================================================================
// LISTINGS
// =============================================================================

// ConversationList prints numbered conversation summaries. The current
// conversation is marked with "*".
func (r *Renderer) ConversationList(metas []store.ConversationMeta) {
	if len(metas) == 0 {
		r.Info("No conversations. Type a message or /new to start one.")
		return
	}
	titleWidth := r.width - 40
	if titleWidth < 16 {
		titleWidth = 16
	}
	for i, m := range metas {
		marker := " "
		title := util.PadWidth(util.TruncateWidth(m.Title, titleWidth), titleWidth)
		if m.Current {
			marker = HighlightStyle.Render("*")
			title = HighlightStyle.Render(title)
		}
		line := fmt.Sprintf("%3d %s %s %s", i+1, marker, title,
			DimStyle.Render(fmt.Sprintf("%3d msg  %s", m.MessageCount, m.UpdatedAt.Local().Format("Jan 02 15:04"))))
		if m.FailedCount > 0 {
			line += " " + WarningStyle.Render(fmt.Sprintf("%d failed", m.FailedCount))
		}
		r.Println(line)
	}
}

// ModelTable prints models with their capabilities. selected is marked
// with "*". At most limit rows are printed when limit > 0.
func (r *Renderer) ModelTable(list []model.ModelData, selected string, limit int) {
	if len(list) == 0 {
		r.Info("No models match.")
		return
	}
	idWidth := 0
	for _, m := range list {
		if w := util.StringWidth(m.ID); w > idWidth {
			idWidth = w
		}
	}
	if max := r.width / 2; idWidth > max {
		idWidth = max
	}
	nameWidth := r.width - idWidth - 30
	if nameWidth < 12 {
		nameWidth = 12
	}

	shown := list
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for i, m := range shown {
		marker := " "
		id := util.PadWidth(util.TruncateWidth(m.ID, idWidth), idWidth)
		if m.ID == selected {
			marker = HighlightStyle.Render("*")
			id = HighlightStyle.Render(id)
		}
		name := util.PadWidth(util.TruncateWidth(m.DisplayName(), nameWidth), nameWidth)
		r.Println(fmt.Sprintf("%3d %s %s %s %s", i+1, marker, id, ValueStyle.Render(name),
			DimStyle.Render(m.CapabilitiesString())))
	}
	if hidden := len(list) - len(shown); hidden > 0 {
		r.Info("  … %d more. Narrow the list with a search term or --free / --vision / --moderated.", hidden)
	}
}

// Help prints the REPL command reference.
func (r *Renderer) Help() {
	r.Println("")
	r.Println(TitleStyle.Render("Commands"))
	r.Println(RenderSeparator(20))
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/new", "Start a new conversation"},
		{"/list", "List conversations"},
		{"/switch <n>", "Switch to conversation n"},
		{"/delete [n]", "Delete conversation n (default: current)"},
		{"/show", "Show the current conversation"},
		{"/retry [n]", "Retry failed message n (default: latest)"},
		{"/image <path>", "Attach an image to the next message"},
		{"/models [search]", "List models (--free --vision --moderated)"},
		{"/model <id|n>", "Select a model"},
		{"/persona [text]", "Show or set the system prompt (--clear)"},
		{"/key <apikey>", "Set the OpenRouter API key"},
		{"/refresh", "Refresh the model catalog"},
		{"/search <text>", "Search conversations"},
		{"/export [path]", "Export the conversation as Markdown"},
		{"/status", "Show settings and catalog state"},
		{"/help", "Show this help"},
		{"/quit", "Exit"},
	}
	for _, c := range commands {
		r.Println(fmt.Sprintf("  %s  %s", CommandStyle.Render(util.PadWidth(c.cmd, 18)), DimStyle.Render(c.desc)))
	}
	r.Println("")
	r.Info("Anything else is sent to the current conversation. Ctrl+C cancels a pending reply, Ctrl+D exits.")
	r.Println("")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// indent prefixes every line of s.
func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
