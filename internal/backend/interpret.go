package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sync"

	"babybaton/internal/domain"
)

const parsedVoiceResultFields = `
    success
    rawText
    errors
    parsedActivities {
      activityType
      feedDetails { startTime endTime amountMl feedType durationMinutes }
      diaperDetails { changedAt hadPee hadPoop }
      sleepDetails { startTime endTime durationMinutes isActive }
    }`

const parseVoiceAudioMutation = `mutation ParseVoiceInput($audioFile: Upload!) {
  parseVoiceInput(audioFile: $audioFile) {` + parsedVoiceResultFields + `
  }
}`

const parseVoiceTextMutation = `mutation ParseVoiceText($text: String!) {
  parseVoiceInput(text: $text) {` + parsedVoiceResultFields + `
  }
}`

type parsedVoiceResult struct {
	Success          bool                      `json:"success"`
	RawText          *string                   `json:"rawText"`
	Errors           []string                  `json:"errors"`
	ParsedActivities []domain.ActivityEnvelope `json:"parsedActivities"`
}

func (r parsedVoiceResult) toDomain() domain.InterpretationResult {
	out := domain.InterpretationResult{
		Success:  r.Success,
		Warnings: append([]string{}, r.Errors...),
	}
	if r.RawText != nil {
		out.RawText = *r.RawText
	}
	activities, skipped := domain.UnwrapActivities(r.ParsedActivities)
	out.ParsedActivities = activities
	out.Warnings = append(out.Warnings, skipped...)
	return out
}

type parseVoiceData struct {
	ParseVoiceInput *parsedVoiceResult `json:"parseVoiceInput"`
}

// Interpret sends one recording (multipart upload) or transcript (JSON) to
// parseVoiceInput. Every failure, GraphQL errors included, is a transport
// failure: a well-formed success=false result is not an error.
func (c *Client) Interpret(ctx context.Context, headers domain.TenancyHeaders, payload domain.InterpretPayload) (domain.InterpretationResult, error) {
	var data parseVoiceData
	var err error
	if payload.IsText() {
		err = c.postJSON(ctx, headers, graphqlRequest{
			Query:         parseVoiceTextMutation,
			OperationName: "ParseVoiceText",
			Variables:     map[string]any{"text": payload.Text},
		}, &data)
		if err == nil && payload.OnSent != nil {
			payload.OnSent()
		}
	} else {
		err = c.upload(ctx, headers, *payload.Artifact, payload.OnSent, &data)
	}
	if err != nil {
		return domain.InterpretationResult{}, transportFailure(err)
	}
	if data.ParseVoiceInput == nil {
		return domain.InterpretationResult{}, transportFailure(fmt.Errorf("parseVoiceInput returned null"))
	}
	return data.ParseVoiceInput.toDomain(), nil
}

// upload follows the GraphQL multipart request convention: an operations
// field, a map field, then the file as part "0".
func (c *Client) upload(ctx context.Context, headers domain.TenancyHeaders, artifact domain.CaptureArtifact, onSent func(), out any) error {
	if artifact.Empty() {
		return fmt.Errorf("upload: recording is empty")
	}

	operations, err := json.Marshal(graphqlRequest{
		Query:         parseVoiceAudioMutation,
		OperationName: "ParseVoiceInput",
		Variables:     map[string]any{"audioFile": nil},
	})
	if err != nil {
		return fmt.Errorf("encode operations: %w", err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("operations", string(operations)); err != nil {
		return err
	}
	if err := form.WriteField("map", `{"0":["variables.audioFile"]}`); err != nil {
		return err
	}

	part := make(textproto.MIMEHeader)
	part.Set("Content-Disposition", multipart.FileContentDisposition("0", artifact.Filename))
	part.Set("Content-Type", artifact.ContentType)
	file, err := form.CreatePart(part)
	if err != nil {
		return err
	}
	if _, err := file.Write(artifact.Data); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	return c.post(ctx, headers, "ParseVoiceInput", newSentReader(&body, onSent), form.FormDataContentType(), out)
}

// sentReader calls onSent once the transport has read the whole body.
type sentReader struct {
	r      io.Reader
	once   sync.Once
	onSent func()
}

func newSentReader(r io.Reader, onSent func()) io.Reader {
	if onSent == nil {
		return r
	}
	return &sentReader{r: r, onSent: onSent}
}

func (s *sentReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF {
		s.once.Do(s.onSent)
	}
	return n, err
}
