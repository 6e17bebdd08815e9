package main

import (
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/chzyer/readline"
)

// CommandFunc runs a shell command, the returned text is printed as the result.
type CommandFunc func(sh *shell, args []string) string

// CommandNode is one word of a shell command. Leaves carry Func, inner nodes group subcommands.
type CommandNode struct {
	Children        map[string]*CommandNode // keyed by lowercased Name
	Name            string
	FullName        string
	Func            CommandFunc
	ArgsInfo        string
	Desc            string
	DynamicComplete readline.DynamicCompleteFunc
}

func newCommandRoot() *CommandNode {
	return &CommandNode{Children: make(map[string]*CommandNode)}
}

func (node *CommandNode) child(name string) *CommandNode {
	key := strings.ToLower(name)
	next, ok := node.Children[key]
	if !ok {
		next = &CommandNode{
			Children: make(map[string]*CommandNode),
			Name:     name,
			FullName: strings.TrimSpace(node.FullName + " " + name),
		}
		node.Children[key] = next
	}
	return next
}

func (node *CommandNode) sortedChildren() []*CommandNode {
	ret := make([]*CommandNode, 0, len(node.Children))
	for _, key := range slices.Sorted(maps.Keys(node.Children)) {
		ret = append(ret, node.Children[key])
	}
	return ret
}

// Register adds fn under path, path elements match case-insensitively.
func (node *CommandNode) Register(path []string, fn CommandFunc, argsInfo string, desc string, dynamicComplete readline.DynamicCompleteFunc) {
	leaf := node
	for _, name := range path {
		leaf = leaf.child(name)
	}
	leaf.Func, leaf.ArgsInfo, leaf.Desc, leaf.DynamicComplete = fn, argsInfo, desc, dynamicComplete
}

// Find walks the tree along the input and returns the deepest node with the remaining args.
func (node *CommandNode) Find(input string) ([]string, *CommandNode) {
	args := splitArgs(input)
	found := node
	for len(args) > 0 {
		next, ok := found.Children[strings.ToLower(args[0])]
		if !ok {
			break
		}
		found, args = next, args[1:]
	}
	return args, found
}

func (node *CommandNode) SelfHelpString() []string {
	return []string{node.FullName, node.ArgsInfo, node.Desc}
}

func (node *CommandNode) collectHelp(rows [][]string) [][]string {
	if node.Func != nil {
		rows = append(rows, node.SelfHelpString())
	}
	for _, next := range node.sortedChildren() {
		rows = next.collectHelp(rows)
	}
	return rows
}

// print3Cols aligns rows of up to three columns.
func print3Cols(table [][]string) string {
	var out strings.Builder
	w := tabwriter.NewWriter(&out, 0, 4, 2, ' ', 0)
	for _, row := range table {
		cols := [3]string{}
		copy(cols[:], row)
		w.Write([]byte(strings.Join(cols[:], "\t") + "\n"))
	}
	w.Flush()
	return out.String()
}

// AllHelpString lists every runnable command below node.
func AllHelpString(node *CommandNode) string {
	return print3Cols(node.collectHelp([][]string{{"Command", "Args", "Desc"}}))
}

func (node *CommandNode) NewCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(node.completerItems()...)
}

func (node *CommandNode) completerItems() []readline.PrefixCompleterInterface {
	var items []readline.PrefixCompleterInterface
	for _, next := range node.sortedChildren() {
		items = append(items, readline.PcItem(next.Name, next.completerItems()...))
	}
	if node.DynamicComplete != nil {
		items = append(items, readline.PcItemDynamic(node.DynamicComplete))
	}
	return items
}

// splitArgs splits on blanks outside quotes, a backslash escapes the next rune.
func splitArgs(input string) []string {
	var result []string
	var current strings.Builder
	var quote rune
	escaped := false
	quoted := false

	for _, r := range input {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			quoted = true
		case r == ' ' || r == '\t':
			if current.Len() > 0 || quoted {
				result = append(result, current.String())
				current.Reset()
				quoted = false
			}
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 || quoted {
		result = append(result, current.String())
	}
	return result
}
