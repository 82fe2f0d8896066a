package modelgen

import "strings"

const schemaBlock = `{
  "entities": [{"id": "string", "name": "string", "description": "string (optional)", "primaryKey": ["attribute name"], "attributes": [{"name": "string", "type": "string|number|integer|boolean|date|datetime|email|url|uuid|json|text", "required": boolean, "unique": boolean}]}],
  "relations": [{"id": "string", "name": "string", "from": {"entityId": "string"}, "to": {"entityId": "string"}, "cardinality": {"from": "0..1|1|0..n|1..n|*", "to": "0..1|1|0..n|1..n|*"}}],
  "invariants": [{"id": "string", "name": "string", "type": "uniqueness|referential_integrity|domain_constraint|cardinality|business_rule|temporal|aggregation", "expression": "string"}]
}`

const promptEN = `You are a Domain Model normalizer. Return ONLY valid DomainModel JSON conforming to the schema. No extra fields allowed.

DomainModel Schema (STRICT):
` + schemaBlock + `

STRICT RULES:
1. NO fields outside this schema
2. All required fields MUST be present
3. Enum types MUST match exactly
4. Every entity MUST have a primaryKey or at least one unique attribute
5. Relations MUST only reference entity ids defined in "entities"
6. Respond ONLY with JSON, no tool_calls, no commentary`

const promptFR = `Tu es un normalizer de Domain Model. Rends UNIQUEMENT un JSON valide DomainModel conforme au schema. Interdis les champs non listés.

Schema DomainModel (STRICT):
` + schemaBlock + `

RÈGLES STRICTES:
1. AUCUN champ en dehors de ce schema
2. Tous les champs obligatoires DOIVENT être présents
3. Les types enum DOIVENT correspondre exactement
4. Chaque entité DOIT avoir une primaryKey ou au moins un attribut unique
5. Les relations ne référencent QUE des ids d'entités définis dans "entities"
6. Réponds UNIQUEMENT avec ce JSON, sans commentaire`

// SystemPrompt returns the instruction sent before the transcript. English
// is used for "en"; every other language gets the French prompt.
func SystemPrompt(lang string) string {
	if strings.EqualFold(lang, "en") {
		return promptEN
	}
	return promptFR
}
