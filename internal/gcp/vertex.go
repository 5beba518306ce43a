package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

const DefaultExtractionModel = "gemini-1.5-pro"

const ExtractionSystemPrompt = "You are a document parser for purchase orders and master-data sheets. You extract structured line items from PDF documents and answer with a single valid JSON object."

// VertexClient holds the pre-configured generative models used by parsers.
type VertexClient struct {
	ExtractionModel *genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a client holding the extraction model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultExtractionModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	extractionModel := baseClient.GenerativeModel(modelName)
	extractionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractionSystemPrompt)},
	}
	extractionModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	extractionModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		ExtractionModel: extractionModel,
		baseClient:      baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
