package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
)

// ErrUnknownCommand is returned for a slash command that does not exist
var ErrUnknownCommand = goerr.New("unknown command")

type Name string

const (
	Help    Name = "help"
	Agents  Name = "agents"
	History Name = "history"
	Save    Name = "save"
	Clear   Name = "clear"
	Exit    Name = "exit"
)

var descriptions = []struct {
	name  Name
	usage string
	desc  string
}{
	{Help, "/help", "show this help"},
	{Agents, "/agents", "list the specialist agents and their tools"},
	{History, "/history", "show the turns of this session"},
	{Save, "/save [path]", "write the last report to path (default: its report name)"},
	{Clear, "/clear", "forget the turns of this session"},
	{Exit, "/exit", "leave interactive mode"},
}

// Command is a parsed slash command
type Command struct {
	Name Name
	Args []string
}

// Parse reads a slash command from line. ok is false when line is a query.
func Parse(line string) (cmd *Command, ok bool, err error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return nil, false, nil
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return nil, true, goerr.Wrap(ErrUnknownCommand, "empty command")
	}

	name := Name(strings.ToLower(fields[0]))
	if name == "quit" {
		name = Exit
	}
	for _, d := range descriptions {
		if d.name == name {
			return &Command{Name: name, Args: fields[1:]}, true, nil
		}
	}
	return nil, true, goerr.Wrap(ErrUnknownCommand, "unknown command", goerr.V("command", fields[0]))
}

// Usage returns the help text of interactive mode
func Usage() string {
	var b strings.Builder
	b.WriteString("Type a question to start an investigation, or one of:\n")
	for _, d := range descriptions {
		fmt.Fprintf(&b, "  %-14s %s\n", d.usage, d.desc)
	}
	return b.String()
}

// FormatAgents lists domains with the names of their tools
func FormatAgents(domains []model.Domain, tools []*model.ToolDescriptor) string {
	if len(domains) == 0 {
		return "No specialist agents configured.\n"
	}

	byDomain := make(map[model.Domain][]string)
	for _, t := range tools {
		byDomain[t.Domain] = append(byDomain[t.Domain], t.Name)
	}

	var b strings.Builder
	for _, d := range domains {
		names := byDomain[d]
		if len(names) == 0 {
			fmt.Fprintf(&b, "%-11s (no tools)\n", d)
			continue
		}
		fmt.Fprintf(&b, "%-11s %s\n", d, strings.Join(names, ", "))
	}
	return b.String()
}

// FormatHistory lists the turns of a conversation, oldest first
func FormatHistory(conv *model.Conversation) string {
	if conv == nil || conv.Len() == 0 {
		return "No investigations in this session yet.\n"
	}

	var b strings.Builder
	for i, t := range conv.Turns() {
		fmt.Fprintf(&b, "%d. [%s] %s (%s)\n", i+1, t.At.Format("15:04:05"), t.Query, t.Strategy)
		if t.Summary != "" {
			fmt.Fprintf(&b, "   %s\n", t.Summary)
		}
		if t.ReportPath != "" {
			fmt.Fprintf(&b, "   report: %s\n", t.ReportPath)
		}
	}
	return b.String()
}

// SaveReport writes the report markdown to path. An empty path or a directory path
// uses the report's own name.
func SaveReport(path string, r *model.Report) (string, error) {
	if r == nil {
		return "", goerr.New("no report to save yet")
	}

	switch {
	case path == "":
		path = r.Name
	case isDir(path):
		path = filepath.Join(path, r.Name)
	}

	if err := os.WriteFile(path, []byte(r.Markdown), 0644); err != nil {
		return "", goerr.Wrap(err, "failed to save report", goerr.V("path", path))
	}
	return path, nil
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
