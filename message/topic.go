package message

import "strings"

// DefaultRoot is the topic prefix sensors publish under.
const DefaultRoot = "dhsiled"

// Topic is a classified broker topic.
type Topic struct {
	Kind   Kind
	GridID string
	Suffix string
}

// ParseTopic classifies topic relative to root. Both "/" and "." separators
// are accepted. Topics outside the hierarchy are unclassified without a grid.
func ParseTopic(root, topic string) Topic {
	if root == "" {
		root = DefaultRoot
	}
	parts := split(topic)
	rootParts := split(root)

	if len(parts) <= len(rootParts) || !hasPrefix(parts, rootParts) {
		return Topic{Kind: KindUnclassified, Suffix: last(parts)}
	}
	rest := parts[len(rootParts):]

	switch {
	case len(rest) == 3 && rest[0] == "grids" && rest[1] != "":
		return Topic{Kind: kindOf(rest[2]), GridID: rest[1], Suffix: rest[2]}
	case len(rest) == 2 && rest[0] == "system":
		return Topic{Kind: kindOf(rest[1]), Suffix: rest[1]}
	default:
		return Topic{Kind: KindUnclassified, Suffix: last(rest)}
	}
}

// Subjects returns the NATS subject filters covering the topic hierarchy
// under root.
func Subjects(root string) []string {
	if root == "" {
		root = DefaultRoot
	}
	base := strings.Join(split(root), ".")
	return []string{
		base + ".grids.*.status",
		base + ".grids.*.alerts",
		base + ".grids.*.health",
		base + ".system.*",
	}
}

func kindOf(segment string) Kind {
	switch segment {
	case "status":
		return KindStatus
	case "alerts":
		return KindAlert
	case "health":
		return KindHealth
	default:
		return KindUnclassified
	}
}

func split(s string) []string {
	s = strings.Trim(strings.ReplaceAll(s, "/", "."), ".")
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

func hasPrefix(parts, prefix []string) bool {
	for i, p := range prefix {
		if parts[i] != p {
			return false
		}
	}
	return true
}

func last(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
