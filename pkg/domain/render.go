package domain

import (
	"fmt"
	"strings"
)

// Audiences accepted by RenderMarkdown. Any other value yields the generic
// title.
const (
	AudienceTechnical = "technical"
	AudienceBusiness  = "business"
)

// Diagram styles accepted by RenderMermaid. Anything but StyleClass renders
// an ER diagram.
const (
	StyleER    = "er"
	StyleClass = "class"
)

const checkMark = "✓"

// RenderMarkdown documents the model as Markdown: one section each for
// entities (with an attribute table), relations and business invariants.
func RenderMarkdown(m *Model, audience string) string {
	var b strings.Builder

	switch audience {
	case AudienceTechnical:
		b.WriteString("# Domain Model - Technical Specification\n\n")
	case AudienceBusiness:
		b.WriteString("# Domain Model - Business Overview\n\n")
	default:
		b.WriteString("# Domain Model\n\n")
	}

	b.WriteString("## Entities\n\n")
	for _, e := range m.Entities {
		fmt.Fprintf(&b, "### %s\n\n", displayName(e.Name, e.ID))
		writeDescription(&b, e.Description)
		b.WriteString("**Attributes:**\n\n")
		b.WriteString("| Name | Type | Required | Unique |\n")
		b.WriteString("|------|------|----------|--------|\n")
		for _, a := range e.Attributes {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", a.Name, a.Type, mark(a.IsRequired()), mark(a.IsUnique()))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Relations\n\n")
	for _, r := range m.Relations {
		fmt.Fprintf(&b, "### %s\n\n", displayName(r.Name, r.ID))
		writeDescription(&b, r.Description)
		fmt.Fprintf(&b, "- From: %s\n- To: %s\n- Cardinality: %s to %s\n\n",
			r.From.EntityID, r.To.EntityID, r.Cardinality.From, r.Cardinality.To)
	}

	b.WriteString("## Business Invariants\n\n")
	for _, inv := range m.Invariants {
		fmt.Fprintf(&b, "### %s\n\n", displayName(inv.Name, inv.ID))
		writeDescription(&b, inv.Description)
		fmt.Fprintf(&b, "- Type: %s\n", inv.Type)
		fmt.Fprintf(&b, "- Expression: `%s`\n", inv.Expression)
		if inv.Severity != nil {
			fmt.Fprintf(&b, "- Severity: %s\n", *inv.Severity)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeDescription(b *strings.Builder, desc *string) {
	if desc != nil {
		fmt.Fprintf(b, "%s\n\n", *desc)
	}
}

func mark(ok bool) string {
	if ok {
		return checkMark
	}
	return ""
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return TitleCase(id)
}

// RenderMermaid draws the model as a Mermaid diagram in the given style.
func RenderMermaid(m *Model, style string) string {
	if style == StyleClass {
		return renderClassDiagram(m)
	}
	return renderERDiagram(m)
}

func renderClassDiagram(m *Model) string {
	var b strings.Builder
	b.WriteString("classDiagram\n")
	for _, e := range m.Entities {
		fmt.Fprintf(&b, "    class %s {\n", e.ID)
		for _, a := range e.Attributes {
			visibility := "-"
			if a.IsRequired() {
				visibility = "+"
			}
			fmt.Fprintf(&b, "        %s%s: %s\n", visibility, a.Name, a.Type)
		}
		b.WriteString("    }\n")
	}
	for _, r := range m.Relations {
		fmt.Fprintf(&b, "    %s %s %s : %s\n", r.From.EntityID, classArrow(r.Cardinality), r.To.EntityID, r.Name)
	}
	return b.String()
}

func classArrow(c Cardinality) string {
	switch {
	case c.From == "1" && c.To == "1":
		return "--"
	case c.From == "1":
		return "-->"
	default:
		return "--*"
	}
}

func renderERDiagram(m *Model) string {
	var b strings.Builder
	b.WriteString("erDiagram\n")
	for _, e := range m.Entities {
		fmt.Fprintf(&b, "    %s {\n", e.ID)
		for _, a := range e.Attributes {
			modifier := ""
			if a.IsRequired() {
				modifier = " PK"
			}
			fmt.Fprintf(&b, "        %s %s%s\n", erType(a.Type), a.Name, modifier)
		}
		b.WriteString("    }\n")
	}
	for _, r := range m.Relations {
		label := r.Name
		switch {
		case r.From.Label != nil:
			label = *r.From.Label
		case r.To.Label != nil:
			label = *r.To.Label
		}
		fmt.Fprintf(&b, "    %s %s--%s %s : \"%s\"\n",
			r.From.EntityID, erFromEnd(r.Cardinality.From), erToEnd(r.Cardinality.To), r.To.EntityID, label)
	}
	return b.String()
}

func erType(t string) string {
	switch t {
	case "number", "integer":
		return "int"
	case "boolean":
		return "bool"
	case "date", "datetime":
		return "date"
	case "uuid":
		return "uuid"
	default:
		return "string"
	}
}

// erFromEnd and erToEnd map cardinalities to crow's-foot markers. Unknown
// values fall back to exactly-one.
func erFromEnd(c string) string {
	switch c {
	case "0..1":
		return "|o"
	case "0..n", "*":
		return "}o"
	case "1..n":
		return "}|"
	default:
		return "||"
	}
}

func erToEnd(c string) string {
	switch c {
	case "0..1":
		return "o|"
	case "0..n", "*":
		return "o{"
	case "1..n":
		return "|{"
	default:
		return "||"
	}
}
