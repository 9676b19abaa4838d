package extract

import "time"

// Condition is a single diagnosis extracted from a transcript
type Condition struct {
	Text       string  `json:"text"`
	ICD10      string  `json:"icd10,omitempty"`
	Confidence float64 `json:"confidence"`
}

// StructuredNote is the structured form of a dictated consultation
type StructuredNote struct {
	Summary     string      `json:"summary"`
	Conditions  []Condition `json:"conditions"`
	Medications []string    `json:"medications,omitempty"`
	Procedures  []string    `json:"procedures,omitempty"`
	FollowUp    string      `json:"follow_up,omitempty"`
}

// StructureRequest represents a request to structure a raw transcript
type StructureRequest struct {
	Transcript string `json:"transcript"`
	Language   string `json:"language,omitempty"`
}

// StructureResponse represents the structuring result
type StructureResponse struct {
	Note             StructuredNote `json:"note"`
	ModelUsed        string         `json:"model_used"`
	ProcessingTimeMs int            `json:"processing_time_ms"`
	Timestamp        time.Time      `json:"timestamp"`
}

// chat-completions wire types (OpenAI-compatible)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
