package console

import (
	"context"
	"strings"

	"github.com/MrWong99/livetranslate/internal/session"
	"github.com/MrWong99/livetranslate/pkg/types"
)

// Controller is the part of [session.Controller] the console drives.
type Controller interface {
	Toggle()
	StartSession()
	StopSession()
	UseSimulation()
	ChangeLanguage(p types.LanguagePair)
	SetQuality(q session.Quality) bool
	EndSession() bool
	ConfirmLeave() bool
	History() []types.TranslationLine
	Snapshot() session.Status
}

const helpText = `commands:
  toggle              start or stop translation
  start | stop        start or stop explicitly
  lang <src> [tgt]    change languages ("-" keeps a side)
  source <code>       change the source language
  target <code>       change the target language
  quality <level>     low, standard or high
  sim                 stop reconnecting and switch to simulated lines
  history             show the current history
  status              show the session status
  end                 end the session and clear the history
  quit                leave
`

// Run reads commands until the user quits, the input ends or ctx is
// cancelled. It returns nil in all three cases.
func (c *Console) Run(ctx context.Context, ctl Controller) error {
	for {
		line, ok := c.next(ctx)
		if !ok {
			return nil
		}
		if quit := c.exec(ctl, line); quit {
			return nil
		}
	}
}

// exec runs a single command line and reports whether the user chose to
// leave.
func (c *Console) exec(ctl Controller, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		c.printf("%s", helpText)
	case "toggle", "t":
		ctl.Toggle()
	case "start":
		ctl.StartSession()
	case "stop":
		ctl.StopSession()
	case "lang", "languages":
		if len(args) == 0 || len(args) > 2 {
			c.printf("usage: lang <source> [target]\n")
			return false
		}
		p := types.LanguagePair{Source: keep(args[0])}
		if len(args) == 2 {
			p.Target = keep(args[1])
		}
		ctl.ChangeLanguage(p)
	case "source", "target":
		if len(args) != 1 {
			c.printf("usage: %s <code>\n", cmd)
			return false
		}
		if cmd == "source" {
			ctl.ChangeLanguage(types.LanguagePair{Source: args[0]})
		} else {
			ctl.ChangeLanguage(types.LanguagePair{Target: args[0]})
		}
	case "quality":
		if len(args) != 1 {
			c.printf("usage: quality <low|standard|high>\n")
			return false
		}
		q, err := session.ParseQuality(args[0])
		if err != nil {
			c.printf("%v\n", err)
			return false
		}
		if !ctl.SetQuality(q) {
			c.printf("quality can only be changed while translating\n")
		}
	case "sim", "simulate", "use-sim":
		ctl.UseSimulation()
	case "history", "h":
		c.printf("%s\n", renderHistory(ctl.History()))
	case "status", "s":
		c.printStatus(ctl.Snapshot())
	case "end":
		if !ctl.EndSession() {
			c.printf("session not ended\n")
		}
	case "quit", "exit", "q":
		return ctl.ConfirmLeave()
	default:
		c.printf("unknown command %q; type help\n", cmd)
	}
	return false
}

func (c *Console) printStatus(s session.Status) {
	c.printf("state:    %s (%s)\n", s.State, s.Text)
	c.printf("language: %s→%s\n", s.SourceLanguage, s.TargetLanguage)
	c.printf("quality:  %s\n", s.Quality)
	if s.ChannelReason != "" {
		c.printf("channel:  %s (%s)\n", s.Channel, s.ChannelReason)
	} else {
		c.printf("channel:  %s\n", s.Channel)
	}
	c.printf("history:  %d lines\n", s.HistoryLines)
	if s.SessionID != "" {
		c.printf("session:  %s\n", s.SessionID)
	}
}

// keep maps "-" to the empty string, which leaves that side unchanged.
func keep(code string) string {
	if code == "-" {
		return ""
	}
	return code
}
