// Package status groups registered units by category for listings.
package status

import (
	"fmt"
	"sort"
	"strings"

	"github.com/core-tools/hsu-extensions/pkg/unit"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	LoadedMarker   = ":green_circle:"
	UnloadedMarker = ":red_circle:"

	categorySeparator = " - "
)

// Marker renders a load state.
func Marker(loaded bool) string {
	if loaded {
		return LoadedMarker
	}
	return UnloadedMarker
}

// Category drops the leaf segment and joins the rest: "a.b.ping" -> "a - b".
func Category(name string) string {
	return strings.Join(unit.Segments(unit.Root(name)), categorySeparator)
}

// ByCategory maps every category to its "<marker>  <leaf>" entries, sorted by leaf.
func ByCategory(names []string, loaded func(name string) bool) map[string][]string {
	type item struct {
		leaf  string
		entry string
	}
	grouped := make(map[string][]item)
	for _, name := range names {
		category := Category(name)
		leaf := unit.Leaf(name)
		grouped[category] = append(grouped[category], item{
			leaf:  leaf,
			entry: fmt.Sprintf("%s  %s", Marker(loaded(name)), leaf),
		})
	}

	result := make(map[string][]string, len(grouped))
	for category, items := range grouped {
		sort.SliceStable(items, func(i, j int) bool { return items[i].leaf < items[j].leaf })
		entries := make([]string, len(items))
		for i, it := range items {
			entries[i] = it.entry
		}
		result[category] = entries
	}
	return result
}

// SortedCategories returns the keys of a ByCategory result in display order.
func SortedCategories(categories map[string][]string) []string {
	keys := make([]string, 0, len(categories))
	for category := range categories {
		keys = append(keys, category)
	}
	sort.Strings(keys)
	return keys
}

// Render produces the listing text for one unit kind.
func Render(kind string, names []string, loaded func(name string) bool) string {
	categories := ByCategory(names, loaded)
	if len(categories) == 0 {
		return fmt.Sprintf("( There are no %ss installed. )", kind)
	}

	title := cases.Title(language.English)

	var b strings.Builder
	for _, category := range SortedCategories(categories) {
		fmt.Fprintf(&b, "**%s**\n%s\n", title.String(strings.ReplaceAll(category, "_", " ")), strings.Join(categories[category], "\n"))
	}
	return b.String()
}
