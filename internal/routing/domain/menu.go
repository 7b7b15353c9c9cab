package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Default texts used when the channel or queue carries none.
const (
	DefaultMenuHeader      = "Escolha uma opção:"
	DefaultInvalidResponse = "Opção inválida. Por favor, escolha uma das opções abaixo:"
	DefaultMenuPrompt      = "Digite o número da opção desejada."
	defaultWelcomeTemplate = "Perfeito! Você selecionou *%s*. Em que posso ajudá-lo?"
)

// MenuOption is one selectable line of the queue menu.
type MenuOption struct {
	Option int
	Label  string
	Queue  Queue
}

// Menu is the rendered queue menu of a channel.
type Menu struct {
	Text    string
	Options []MenuOption
}

// ActiveQueuesInMenuOrder returns the active queues sorted by menu option.
// Queues sharing an option keep their input order.
func ActiveQueuesInMenuOrder(queues []Queue) []Queue {
	active := make([]Queue, 0, len(queues))
	for _, q := range queues {
		if q.Active {
			active = append(active, q)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].MenuOption < active[j].MenuOption
	})
	return active
}

// BuildMenu renders the menu of the channel's active queues.
func BuildMenu(channel Channel, queues []Queue) Menu {
	ordered := ActiveQueuesInMenuOrder(queues)

	header := strings.TrimSpace(channel.MenuHeader)
	if header == "" {
		header = DefaultMenuHeader
	}

	var b strings.Builder
	b.WriteString(header)
	options := make([]MenuOption, 0, len(ordered))
	for _, q := range ordered {
		fmt.Fprintf(&b, "\n%d - %s", q.MenuOption, q.MenuLabel)
		options = append(options, MenuOption{Option: q.MenuOption, Label: q.MenuLabel, Queue: q})
	}
	if footer := strings.TrimSpace(channel.MenuFooter); footer != "" {
		b.WriteString("\n\n")
		b.WriteString(footer)
	}

	return Menu{Text: b.String(), Options: options}
}

// InvalidSelectionText renders the retry prompt: the correction notice, the
// menu and the input hint.
func InvalidSelectionText(channel Channel, queues []Queue) string {
	notice := strings.TrimSpace(channel.InvalidResponseText)
	if notice == "" {
		notice = DefaultInvalidResponse
	}
	plain := channel
	plain.MenuFooter = ""
	return notice + "\n\n" + BuildMenu(plain, queues).Text + "\n\n" + DefaultMenuPrompt
}

// WelcomeText returns the queue's welcome message or the default one.
func WelcomeText(q Queue) string {
	if msg := strings.TrimSpace(q.WelcomeMessage); msg != "" {
		return msg
	}
	label := q.MenuLabel
	if label == "" {
		label = q.Name
	}
	return fmt.Sprintf(defaultWelcomeTemplate, label)
}

// MatchSelection resolves a menu reply against the active queues. A numeric
// reply must equal a menu option; any other reply matches the first queue,
// in menu order, whose label or name contains it. Matching is case-sensitive.
func MatchSelection(reply string, queues []Queue) (Queue, bool) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Queue{}, false
	}

	ordered := ActiveQueuesInMenuOrder(queues)
	if option, err := strconv.Atoi(reply); err == nil {
		for _, q := range ordered {
			if q.MenuOption == option {
				return q, true
			}
		}
		return Queue{}, false
	}

	for _, q := range ordered {
		if strings.Contains(q.MenuLabel, reply) || strings.Contains(q.Name, reply) {
			return q, true
		}
	}
	return Queue{}, false
}

// DefaultQueue is the first active queue in menu order.
func DefaultQueue(queues []Queue) (Queue, bool) {
	ordered := ActiveQueuesInMenuOrder(queues)
	if len(ordered) == 0 {
		return Queue{}, false
	}
	return ordered[0], true
}
