package mcp

// tools is the fixed tool list advertised by tools/list.
var tools = []Tool{
	{
		Name:        "memory_add",
		Description: "Store a piece of text in vector memory so it can be recalled later by meaning.",
		InputSchema: JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"text": {Type: "string", Description: "The text to remember"},
				"id":   {Type: "string", Description: "Optional record id; generated when omitted"},
				"meta": {Type: "object", Description: "Optional metadata stored with the record"},
			},
			Required: []string{"text"},
		},
	},
	{
		Name:        "memory_query",
		Description: "Find the stored memories most similar to a text or an embedding.",
		InputSchema: JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"text":      {Type: "string", Description: "Natural language query"},
				"embedding": {Type: "array", Description: "Query vector, used instead of text", Items: &Property{Type: "number"}},
				"k":         {Type: "number", Description: "Maximum number of results", Default: 3},
			},
		},
	},
	{
		Name:        "memory_context",
		Description: "Build a ranked block of relevant memories to ground an answer.",
		InputSchema: JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"text": {Type: "string", Description: "The question or topic"},
				"k":    {Type: "number", Description: "Maximum number of memories", Default: 3},
			},
			Required: []string{"text"},
		},
	},
	{
		Name:        "memory_list",
		Description: "List every stored memory.",
		InputSchema: JSONSchema{Type: "object"},
	},
	{
		Name:        "memory_clear",
		Description: "Delete every stored memory.",
		InputSchema: JSONSchema{Type: "object"},
	},
	{
		Name:        "memory_ingest",
		Description: "Load the text files of a directory into memory, one record per chunk.",
		InputSchema: JSONSchema{
			Type: "object",
			Properties: map[string]Property{
				"path": {Type: "string", Description: "Directory to ingest", Default: "."},
			},
		},
	},
	{
		Name:        "memory_status",
		Description: "Report which backend serves memory and how many records the fallback holds.",
		InputSchema: JSONSchema{Type: "object"},
	},
}
