// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/jeranaias/sessionchat/internal/app"
	"github.com/jeranaias/sessionchat/internal/catalog"
	"github.com/jeranaias/sessionchat/internal/cloud"
	"github.com/jeranaias/sessionchat/internal/codec"
	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/pipeline"
	"github.com/jeranaias/sessionchat/internal/store"
	"github.com/jeranaias/sessionchat/internal/util"
)

// ModelListLimit caps the rows printed by /models.
const ModelListLimit = 50

// =============================================================================
// INPUT
// =============================================================================

// LineReader reads one line of input. Returning io.EOF or
// liner.ErrPromptAborted ends the REPL.
type LineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a liner-backed reader. History is loaded from
// historyFile when it exists.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line, historyFile: historyFile}
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			c.line.ReadHistory(f)
			f.Close()
		}
	}
	return c
}

// ReadLine prompts for a line and records non-empty input in the history.
func (c *ChatCLI) ReadLine(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history (owner read/write only) and restores the
// terminal.
func (c *ChatCLI) Close() error {
	var saveErr error
	if c.historyFile != "" {
		var buf bytes.Buffer
		if _, err := c.line.WriteHistory(&buf); err == nil {
			saveErr = util.AtomicWriteFile(c.historyFile, buf.Bytes(), 0o600, 0o700)
		}
	}
	if err := c.line.Close(); err != nil {
		return err
	}
	return saveErr
}

// ScanReader reads lines from a non-interactive input such as a pipe.
type ScanReader struct {
	sc *bufio.Scanner
}

// NewScanReader creates a reader over in. Lines may be up to 1 MiB.
func NewScanReader(in io.Reader) *ScanReader {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &ScanReader{sc: sc}
}

// ReadLine returns the next line, or io.EOF. The prompt is not printed.
func (s *ScanReader) ReadLine(string) (string, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

// Close is a no-op.
func (s *ScanReader) Close() error { return nil }

// =============================================================================
// REPL
// =============================================================================

// REPLOptions configures a REPL.
type REPLOptions struct {
	Reader LineReader
	Out    io.Writer

	// Width bounds rendering; zero uses the terminal width.
	Width int

	// Spinner animates pending replies. Enable only on a terminal.
	Spinner bool
}

// REPL is the interactive chat loop. Plain input is sent to the current
// conversation; lines starting with "/" are commands.
type REPL struct {
	app     *app.App
	in      LineReader
	out     io.Writer
	render  *Renderer
	spinner bool
	log     *zap.Logger

	pendingImages []string
	pendingNames  []string

	// Numbering used by /switch, /delete and /model <n>.
	lastList   []store.ConversationMeta
	lastModels []model.ModelData

	mu     sync.Mutex
	detach chan struct{}
}

// errBackground is returned by pending when the user stopped waiting. The
// request keeps running and its result lands in the store.
var errBackground = errors.New("request continues in the background")

// NewREPL creates a REPL over a.
func NewREPL(a *app.App, opts REPLOptions) *REPL {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &REPL{
		app:     a,
		in:      opts.Reader,
		out:     out,
		render:  NewRenderer(out, opts.Width),
		spinner: opts.Spinner,
		log:     a.Log.Module("repl"),
	}
}

// Run reads and handles lines until /quit, EOF or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	r.welcome()
	for {
		line, err := r.in.ReadLine(PromptStyle.Render("chat> "))
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				r.render.Println("")
				r.render.Info("Bye.")
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if quit := r.HandleLine(ctx, line); quit {
			r.render.Info("Bye.")
			return nil
		}
	}
}

// Interrupt stops waiting for the pending request, if any, and returns to
// the prompt. The request itself is not cancelled. It reports whether a
// request was pending.
func (r *REPL) Interrupt() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detach == nil {
		return false
	}
	close(r.detach)
	r.detach = nil
	return true
}

// HandleLine handles one line of input. It returns true when the REPL
// should exit.
func (r *REPL) HandleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.send(ctx, line)
		return false
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	var err error
	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return true
	case "/help", "/h", "/?":
		r.render.Help()
	case "/new":
		r.cmdNew()
	case "/list", "/ls":
		r.cmdList()
	case "/switch":
		err = r.cmdSwitch(rest)
	case "/delete", "/rm":
		err = r.cmdDelete(rest)
	case "/show":
		r.cmdShow()
	case "/retry":
		err = r.cmdRetry(ctx, rest)
	case "/image", "/img":
		err = r.cmdImage(rest)
	case "/models":
		err = r.cmdModels(ctx, rest)
	case "/model":
		err = r.cmdModel(rest)
	case "/persona":
		r.cmdPersona(rest)
	case "/key":
		r.cmdKey(rest)
	case "/refresh":
		err = r.cmdRefresh(ctx)
	case "/search":
		r.cmdSearch(rest)
	case "/export":
		err = r.cmdExport(rest)
	case "/status":
		r.cmdStatus()
	default:
		err = &UsageError{Message: fmt.Sprintf("unknown command %s (type /help)", name)}
	}
	if err != nil {
		r.report(err)
	}
	return false
}

// =============================================================================
// SENDING
// =============================================================================

func (r *REPL) send(ctx context.Context, text string) {
	convID := r.app.Store.CurrentID()
	if convID == "" {
		convID = r.app.Store.CreateConversation().ID
	}
	images := r.pendingImages

	var msg *model.Message
	err := r.pending(ctx, "thinking…", func(ctx context.Context) error {
		var err error
		msg, err = r.app.Pipeline.Send(ctx, pipeline.SendRequest{
			ConversationID: convID,
			Text:           text,
			Images:         images,
		})
		return err
	})
	if errors.Is(err, errBackground) {
		r.pendingImages, r.pendingNames = nil, nil
		r.report(err)
		return
	}
	if err != nil {
		// Nothing was stored; keep the attachments for the next attempt.
		r.report(err)
		return
	}
	r.pendingImages, r.pendingNames = nil, nil
	r.render.Reply(msg)
}

// pending runs fn with the spinner and waits for it. Interrupt stops the
// wait early with errBackground; fn keeps running.
func (r *REPL) pending(ctx context.Context, label string, fn func(context.Context) error) error {
	detach := make(chan struct{})
	r.mu.Lock()
	r.detach = detach
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		if r.detach == detach {
			r.detach = nil
		}
		r.mu.Unlock()
	}()

	if r.spinner {
		sp := NewSpinner(r.out, label)
		sp.Start()
		defer sp.Stop()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-detach:
		return errBackground
	}
}

// report prints err with a hint for the fix.
func (r *REPL) report(err error) {
	var usage *UsageError
	var ve *pipeline.ValidationError
	switch {
	case errors.Is(err, errBackground):
		r.render.Info("Stopped waiting. The reply will be added to this conversation when it arrives (see /show).")
	case errors.As(err, &usage):
		r.render.Warn("%s", usage.Message)
	case errors.As(err, &ve):
		switch ve.Field {
		case "api_key":
			r.render.Warn("No API key set. Use /key <your OpenRouter key>.")
		case "model":
			r.render.Warn("No model selected. Use /models to list them and /model <id> to pick one.")
		case "message_id":
			r.render.Warn("Nothing to retry: %s.", ve.Message)
		default:
			r.render.Warn("%s", ve.Message)
		}
	default:
		r.log.Warn("command_failed", zap.Error(err))
		r.render.Error("%v", err)
	}
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func (r *REPL) cmdNew() {
	conv := r.app.Store.CreateConversation()
	r.lastList = nil
	r.render.Success("Started %s", conv.Title)
}

func (r *REPL) cmdList() {
	r.lastList = r.app.Store.List()
	r.render.ConversationList(r.lastList)
}

func (r *REPL) cmdSearch(query string) {
	if query == "" {
		r.cmdList()
		return
	}
	r.lastList = r.app.Store.Search(query)
	if len(r.lastList) == 0 {
		r.render.Info("No conversations match %q.", query)
		return
	}
	r.render.ConversationList(r.lastList)
}

// listed returns the numbering shown by the last /list or /search.
func (r *REPL) listed() []store.ConversationMeta {
	if r.lastList == nil {
		r.lastList = r.app.Store.List()
	}
	return r.lastList
}

func (r *REPL) cmdSwitch(arg string) error {
	metas := r.listed()
	idx, err := ParseIndex(arg, len(metas), "conversation")
	if err != nil {
		return err
	}
	if err := r.app.Store.SetCurrent(metas[idx].ID); err != nil {
		r.lastList = nil
		return &UsageError{Message: "that conversation no longer exists; run /list again"}
	}
	r.render.Success("Switched to %s", metas[idx].Title)
	if conv := r.app.Store.Current(); conv != nil {
		if last := conv.GetLastMessage(); last != nil {
			r.render.Message(len(conv.Messages), last)
		}
	}
	return nil
}

func (r *REPL) cmdDelete(arg string) error {
	var id, title string
	if arg == "" {
		conv := r.app.Store.Current()
		if conv == nil {
			return &UsageError{Message: "no current conversation"}
		}
		id, title = conv.ID, conv.Title
	} else {
		metas := r.listed()
		idx, err := ParseIndex(arg, len(metas), "conversation")
		if err != nil {
			return err
		}
		id, title = metas[idx].ID, metas[idx].Title
	}
	r.app.Store.DeleteConversation(id)
	r.lastList = nil
	r.render.Success("Deleted %s", title)
	return nil
}

func (r *REPL) cmdShow() {
	conv := r.app.Store.Current()
	if conv == nil {
		r.render.Info("No current conversation. Type a message or /new to start one.")
		return
	}
	r.render.Conversation(conv)
}

func (r *REPL) cmdRetry(ctx context.Context, arg string) error {
	conv := r.app.Store.Current()
	if conv == nil {
		return &UsageError{Message: "no current conversation"}
	}

	var msg *model.Message
	err := r.pending(ctx, "retrying…", func(ctx context.Context) error {
		var err error
		if arg == "" {
			msg, err = r.app.Pipeline.RetryLatest(ctx, conv.ID)
			return err
		}
		idx, err := ParseIndex(arg, len(conv.Messages), "message")
		if err != nil {
			return err
		}
		target := conv.Messages[idx]
		if !target.CanRetry() {
			return &UsageError{Message: fmt.Sprintf("message %s is not a failed reply", arg)}
		}
		msg, err = r.app.Pipeline.Retry(ctx, conv.ID, target.ID)
		return err
	})
	if err != nil {
		return err
	}
	r.render.Reply(msg)
	return nil
}

func (r *REPL) cmdExport(path string) error {
	conv := r.app.Store.Current()
	if conv == nil {
		return &UsageError{Message: "no current conversation"}
	}
	md, err := r.app.Store.ExportMarkdown(conv.ID)
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Fprint(r.out, md)
		return nil
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if err := util.AtomicWriteFile(path, []byte(md), 0o644, 0o755); err != nil {
		return &CommandError{Command: "export", Action: "write " + path, Err: err}
	}
	r.render.Success("Exported %s to %s", conv.Title, path)
	return nil
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func (r *REPL) cmdImage(path string) error {
	if path == "" {
		if len(r.pendingNames) == 0 {
			r.render.Info("No images attached. Use /image <path>.")
			return nil
		}
		r.render.Info("Attached: %s", strings.Join(r.pendingNames, ", "))
		return nil
	}
	if path == "--clear" {
		r.pendingImages, r.pendingNames = nil, nil
		r.render.Success("Attachments cleared")
		return nil
	}

	uri, err := codec.LoadImage(path)
	if err != nil {
		return &UsageError{Message: err.Error()}
	}
	r.pendingImages = append(r.pendingImages, uri)
	r.pendingNames = append(r.pendingNames, filepath.Base(path))
	r.render.Success("Attached %s (%d pending)", filepath.Base(path), len(r.pendingImages))

	current := r.app.Settings.Get().Model
	if current != "" && !r.app.Catalog.Capabilities(current).SupportsVision {
		r.render.Warn("%s does not accept images; they will be saved with the message but not sent.", current)
	}
	return nil
}

// =============================================================================
// MODELS AND SETTINGS
// =============================================================================

func (r *REPL) cmdModels(ctx context.Context, rest string) error {
	p := NewArgParser(strings.Fields(rest), "free", "vision", "moderated")
	if r.app.Catalog.Len() == 0 {
		if err := r.cmdRefresh(ctx); err != nil {
			return err
		}
	}

	list := catalog.Filter(r.app.Catalog.Models(), JoinPositionalArgs(p, 0), catalog.Filters{
		FreeOnly:      p.BoolFlag("free"),
		VisionOnly:    p.BoolFlag("vision"),
		ModeratedOnly: p.BoolFlag("moderated"),
	})
	r.lastModels = list
	r.render.ModelTable(list, r.app.Settings.Get().Model, ModelListLimit)
	if r.app.Catalog.Stale() {
		r.render.Warn("The last refresh failed; this list may be out of date. Use /refresh to try again.")
	}
	return nil
}

func (r *REPL) cmdModel(arg string) error {
	if arg == "" {
		current := r.app.Settings.Get().Model
		if current == "" {
			r.render.Info("No model selected.")
			return nil
		}
		r.render.Println(RenderLabel("Model:", current))
		return nil
	}

	id := arg
	if n := len(r.lastModels); n > 0 && isNumber(arg) {
		idx, err := ParseIndex(arg, n, "model")
		if err != nil {
			return err
		}
		id = r.lastModels[idx].ID
	}
	if r.app.Catalog.Len() > 0 {
		if _, ok := r.app.Catalog.Lookup(id); !ok {
			return &UsageError{Message: fmt.Sprintf("unknown model %q; use /models to search", id)}
		}
	}

	r.app.Settings.Update(func(s *model.ChatSettings) { s.Model = id })
	caps := r.app.Catalog.Capabilities(id)
	r.render.Success("Model set to %s", id)
	if caps.IsFree {
		r.render.Info("  free")
	}
	if len(r.pendingImages) > 0 && !caps.SupportsVision {
		r.render.Warn("%s does not accept images; pending attachments will not be sent.", id)
	}
	return nil
}

func (r *REPL) cmdPersona(arg string) {
	switch arg {
	case "":
		persona := r.app.Settings.Get().Persona
		if persona == "" {
			r.render.Info("No persona set. Replies use the model's default behavior.")
			return
		}
		r.render.Println(LabelStyle.Render("Persona:"))
		r.render.Println(indent(persona, "  "))
	case "--clear":
		r.app.Settings.Update(func(s *model.ChatSettings) { s.Persona = "" })
		r.render.Success("Persona cleared")
	default:
		r.app.Settings.Update(func(s *model.ChatSettings) { s.Persona = arg })
		r.render.Success("Persona updated")
	}
}

func (r *REPL) cmdKey(arg string) {
	if arg == "" {
		key := r.app.Settings.Get().APIKey
		if key == "" {
			r.render.Info("No API key set. Use /key <your OpenRouter key>.")
			return
		}
		r.render.Println(RenderLabel("API key:", util.MaskSecret(key)))
		return
	}
	updated := r.app.Settings.Update(func(s *model.ChatSettings) { s.APIKey = arg })
	r.render.Success("API key set (%s)", util.MaskSecret(updated.APIKey))
	if !cloud.ValidateAPIKey(updated.APIKey) {
		r.render.Warn("That does not look like an OpenRouter key (expected sk-or-...).")
	}
}

func (r *REPL) cmdRefresh(ctx context.Context) error {
	err := r.pending(ctx, "loading models…", func(ctx context.Context) error {
		return r.app.RefreshCatalog(ctx, true)
	})
	if errors.Is(err, errBackground) {
		return err
	}
	if err != nil {
		if r.app.Catalog.Len() > 0 {
			r.render.Warn("Could not refresh models: %v. Keeping %d cached models.", err, r.app.Catalog.Len())
			return nil
		}
		return err
	}
	r.lastModels = nil
	r.render.Success("Loaded %d models", r.app.Catalog.Len())
	if id := r.app.Settings.Get().Model; id != "" {
		r.render.Println(RenderLabel("Model:", id))
	}
	return nil
}

func (r *REPL) cmdStatus() {
	s := r.app.Settings.Get()
	key := "not set"
	if s.HasAPIKey() {
		key = util.MaskSecret(s.APIKey)
	}
	modelID := "none"
	if s.HasModel() {
		modelID = s.Model
	}
	catalogState := fmt.Sprintf("%d models", r.app.Catalog.Len())
	if r.app.Catalog.Stale() {
		catalogState += " (stale)"
	}

	r.render.Println(RenderLabel("API key:      ", key))
	r.render.Println(RenderLabel("Model:        ", modelID))
	r.render.Println(RenderLabel("Persona:      ", util.TruncateRunes(util.SingleLine(s.Persona), 60)))
	r.render.Println(RenderLabel("Catalog:      ", catalogState))
	r.render.Println(RenderLabel("Conversations:", fmt.Sprintf("%d", r.app.Store.Len())))
	r.render.Println(RenderLabel("Storage:      ", r.app.Config.Storage.Backend))
	if len(r.pendingNames) > 0 {
		r.render.Println(RenderLabel("Attached:     ", strings.Join(r.pendingNames, ", ")))
	}
}

func (r *REPL) welcome() {
	r.render.Println(TitleStyle.Render("sessionchat") + " " + DimStyle.Render(Version))
	r.render.Println(RenderSeparator(30))
	s := r.app.Settings.Get()
	switch {
	case !s.HasAPIKey():
		r.render.Warn("No API key set. Use /key <your OpenRouter key>.")
	case !s.HasModel():
		r.render.Warn("No model selected. Use /models and /model <id>.")
	default:
		r.render.Println(RenderLabel("Model:", s.Model))
	}
	if conv := r.app.Store.Current(); conv != nil {
		r.render.Println(RenderLabel("Conversation:", fmt.Sprintf("%s (%d messages)", conv.Title, len(conv.Messages))))
	}
	r.render.Info("Type /help for commands.")
	r.render.Println("")
}
