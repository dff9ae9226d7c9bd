package tools

import "encoding/json"

// Definition describes one tool to the language-model service. Parameters
// is a JSON Schema object.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Definitions lists every tool the tutor exposes to the language model.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        "save_user_profile",
			Description: "Save or update user profile information",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "User's name"},
					"level": {"type": "string", "enum": ["beginner", "intermediate", "advanced"], "description": "User's Japanese proficiency level"},
					"interests": {"type": "array", "items": {"type": "string"}, "description": "User's interests for contextual learning"},
					"preferred_topics": {"type": "array", "items": {"type": "string"}, "description": "Topics the user prefers to learn about"},
					"learning_goals": {"type": "array", "items": {"type": "string"}, "description": "User's learning goals"}
				}
			}`),
		},
		{
			Name:        "get_user_profile",
			Description: "Get the user's profile information",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		{
			Name:        "record_mistake",
			Description: "Record a mistake made by the user for future review",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"type": {"type": "string", "enum": ["vocabulary", "grammar", "pronunciation"], "description": "Type of mistake"},
					"mistake": {"type": "string", "description": "The incorrect Japanese used by the user"},
					"correction": {"type": "string", "description": "The correct Japanese"},
					"explanation": {"type": "string", "description": "Explanation of why the correction is needed"}
				},
				"required": ["type", "mistake", "correction"]
			}`),
		},
		{
			Name:        "get_mistakes_for_review",
			Description: "Get mistakes for review session",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"type": {"type": "string", "enum": ["vocabulary", "grammar", "pronunciation"], "description": "Type of mistakes to review (optional)"},
					"limit": {"type": "integer", "description": "Maximum number of mistakes to return"}
				}
			}`),
		},
		{
			Name:        "save_lesson_history",
			Description: "Save the current lesson to history",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"topic": {"type": "string", "description": "Topic of the lesson"},
					"content": {"type": "string", "description": "Content covered in the lesson"}
				},
				"required": ["topic", "content"]
			}`),
		},
		{
			Name:        "get_lesson_history",
			Description: "Get recent lesson history",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"limit": {"type": "integer", "description": "Maximum number of lessons to return"}
				}
			}`),
		},
		{
			Name:        "generate_image_for_vocabulary",
			Description: "Generate an image to illustrate a Japanese vocabulary word",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"word": {"type": "string", "description": "The Japanese word to illustrate"},
					"meaning": {"type": "string", "description": "The English meaning of the word"}
				},
				"required": ["word", "meaning"]
			}`),
		},
	}
}
