package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/buildcoprojects/signalhub/pkg/util/resiliency"
)

// streamBuffer bounds how far the producer may run ahead of the consumer.
const streamBuffer = 16

// OpenAIClient implements Client on the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client. baseURL may point at any compatible API.
// httpClient may be nil.
func NewOpenAIClient(apiKey, model, baseURL string, httpClient resiliency.Doer) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (c *OpenAIClient) request(msgs []Message, opts *Options) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{Model: c.model}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if opts != nil {
		if opts.Model != "" {
			req.Model = opts.Model
		}
		req.Temperature = opts.Temperature
		req.MaxTokens = opts.MaxTokens
		if opts.JSON {
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}
	return req
}

func (c *OpenAIClient) Chat(ctx context.Context, msgs []Message, opts *Options) (*Response, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(msgs, opts))
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat: no choices returned")
	}
	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, msgs []Message, opts *Options) (<-chan Chunk, error) {
	req := c.request(msgs, opts)
	req.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	out := make(chan Chunk, streamBuffer)
	go func() {
		defer close(out)
		defer func() { _ = stream.Close() }()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case out <- Chunk{Err: fmt.Errorf("openai stream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- Chunk{Delta: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai ping: %w", err)
	}
	return nil
}
