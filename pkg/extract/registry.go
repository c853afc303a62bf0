package extract

import "github.com/samber/lo"

// Channels lists every channel in the order a run extracts them.
var Channels = []string{"push", "chat", "sms", "email", "inapp", "campaigns", "contacts"}

var constructors = map[string]func(Deps) Extractor{
	"push":      NewPushExtractor,
	"chat":      NewChatExtractor,
	"sms":       NewSMSExtractor,
	"email":     NewEmailExtractor,
	"inapp":     NewInAppExtractor,
	"campaigns": NewCampaignsExtractor,
	"contacts":  NewContactsExtractor,
}

// All builds the extractors for the given channels, keeping run order. An empty selection
// means every channel.
func All(deps Deps, channels ...string) []Extractor {
	selected := Channels
	if len(channels) > 0 {
		selected = lo.Filter(Channels, func(c string, _ int) bool { return lo.Contains(channels, c) })
	}

	return lo.Map(selected, func(c string, _ int) Extractor { return constructors[c](deps) })
}
