package backend

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"babybaton/internal/domain"
	"babybaton/internal/observe"
)

var (
	testFamily    = uuid.MustParse("6f1c2a1e-8d37-4f55-a7a9-3f0c5e2b9d10")
	testCaregiver = uuid.MustParse("0b8e4a52-12c4-4a8e-9d3e-7f6a1b2c3d4e")
)

func testHeaders() domain.TenancyHeaders {
	return domain.TenancyHeaders{FamilyID: testFamily, CaregiverID: testCaregiver, Timezone: "Europe/Berlin"}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, WithLogger(observe.Discard()))
}

func writeData(t *testing.T, w http.ResponseWriter, data string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	_, err := io.WriteString(w, `{"data":`+data+`}`)
	require.NoError(t, err)
}

func decodeGraphQL(t *testing.T, r *http.Request) graphqlRequest {
	t.Helper()
	var req graphqlRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestInterpretTextSendsTenancyHeaders(t *testing.T) {
	t.Parallel()

	var sent atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, testFamily.String(), r.Header.Get("X-Family-ID"))
		require.Equal(t, testCaregiver.String(), r.Header.Get("X-Caregiver-ID"))
		require.Equal(t, "Europe/Berlin", r.Header.Get("X-Timezone"))
		require.NotEmpty(t, r.Header.Get("X-Request-ID"))

		req := decodeGraphQL(t, r)
		require.Equal(t, "ParseVoiceText", req.OperationName)
		require.Equal(t, "fed 120 ml formula", req.Variables["text"])

		writeData(t, w, `{"parseVoiceInput":{"success":true,"rawText":"fed 120 ml formula","errors":[],
			"parsedActivities":[{"activityType":"FEED","feedDetails":{"startTime":"2026-10-19T08:30:00Z","amountMl":120,"feedType":"FORMULA"}}]}}`)
	})

	result, err := client.Interpret(context.Background(), testHeaders(), domain.InterpretPayload{
		Text:   "fed 120 ml formula",
		OnSent: func() { sent.Add(1) },
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "fed 120 ml formula", result.RawText)
	require.Len(t, result.ParsedActivities, 1)

	feed, ok := result.ParsedActivities[0].(domain.Feed)
	require.True(t, ok)
	require.Equal(t, 120, *feed.AmountMl)
	require.Equal(t, domain.FeedTypeFormula, *feed.FeedType)
	require.EqualValues(t, 1, sent.Load())
}

func TestCallsRecordClientSpans(t *testing.T) {
	t.Parallel()

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(t, w, `{"getCurrentSession":null}`)
	}))
	t.Cleanup(server.Close)
	client := New(server.URL, WithLogger(observe.Discard()), WithTracerProvider(tp))

	ctx, parent := tp.Tracer("test").Start(context.Background(), "sessions.refresh")
	_, err := client.CurrentSession(ctx, testHeaders())
	require.NoError(t, err)
	parent.End()

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	httpSpan := spans[0]
	require.Equal(t, trace.SpanKindClient, httpSpan.SpanKind)
	require.Equal(t, parent.SpanContext().TraceID(), httpSpan.SpanContext.TraceID())
	require.Equal(t, parent.SpanContext().SpanID(), httpSpan.Parent.SpanID())
}

func TestInterpretDefaultsTimezoneToUTC(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "UTC", r.Header.Get("X-Timezone"))
		writeData(t, w, `{"parseVoiceInput":{"success":false,"rawText":null,"errors":["no activity"],"parsedActivities":[]}}`)
	})

	headers := testHeaders()
	headers.Timezone = ""
	result, err := client.Interpret(context.Background(), headers, domain.InterpretPayload{Text: "hello"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Empty(t, result.RawText)
	require.Equal(t, []string{"no activity"}, result.Warnings)
	require.Empty(t, result.ParsedActivities)
}

func TestInterpretUploadsMultipartRecording(t *testing.T) {
	t.Parallel()

	audio := []byte("RIFF....WAVEfmt fake audio")
	var sent atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/form-data", mediaType)

		reader := multipart.NewReader(r.Body, params["boundary"])

		part, err := reader.NextPart()
		require.NoError(t, err)
		require.Equal(t, "operations", part.FormName())
		var ops graphqlRequest
		require.NoError(t, json.NewDecoder(part).Decode(&ops))
		require.Equal(t, "ParseVoiceInput", ops.OperationName)
		require.Contains(t, ops.Variables, "audioFile")
		require.Nil(t, ops.Variables["audioFile"])

		part, err = reader.NextPart()
		require.NoError(t, err)
		require.Equal(t, "map", part.FormName())
		mapping, err := io.ReadAll(part)
		require.NoError(t, err)
		require.JSONEq(t, `{"0":["variables.audioFile"]}`, string(mapping))

		part, err = reader.NextPart()
		require.NoError(t, err)
		require.Equal(t, "0", part.FormName())
		require.Equal(t, "recording.wav", part.FileName())
		require.Equal(t, "audio/wav", part.Header.Get("Content-Type"))
		body, err := io.ReadAll(part)
		require.NoError(t, err)
		require.Equal(t, audio, body)

		writeData(t, w, `{"parseVoiceInput":{"success":true,"rawText":"diaper","errors":[],
			"parsedActivities":[{"activityType":"DIAPER","diaperDetails":{"changedAt":"2026-10-19T09:00:00Z","hadPee":true,"hadPoop":false}}]}}`)
	})

	result, err := client.Interpret(context.Background(), testHeaders(), domain.InterpretPayload{
		Artifact: &domain.CaptureArtifact{Data: audio, Filename: "recording.wav", ContentType: "audio/wav"},
		OnSent:   func() { sent.Add(1) },
	})
	require.NoError(t, err)
	require.Len(t, result.ParsedActivities, 1)
	require.Equal(t, domain.Diaper{ChangedAt: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), HadPee: true}, result.ParsedActivities[0])
	require.EqualValues(t, 1, sent.Load())
}

func TestInterpretSkipsMalformedActivities(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(t, w, `{"parseVoiceInput":{"success":true,"rawText":"x","errors":[],"parsedActivities":[
			{"activityType":"BATH"},
			{"activityType":"SLEEP"},
			{"activityType":"SLEEP","sleepDetails":{"startTime":"2026-10-19T13:00:00Z","isActive":true}}]}}`)
	})

	result, err := client.Interpret(context.Background(), testHeaders(), domain.InterpretPayload{Text: "x"})
	require.NoError(t, err)
	require.Len(t, result.ParsedActivities, 1)
	require.IsType(t, domain.Sleep{}, result.ParsedActivities[0])
	require.Len(t, result.Warnings, 2)
	require.Contains(t, result.Warnings[0], "activity 1 skipped")
	require.Contains(t, result.Warnings[1], "activity 2 skipped")
}

func TestInterpretFailuresAreTransport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "graphql error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"errors":[{"message":"speech service down"}]}`)
			},
		},
		{
			name: "http status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad gateway", http.StatusBadGateway)
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `<html>`)
			},
		},
		{
			name: "null result",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"data":{"parseVoiceInput":null}}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, tt.handler)
			_, err := client.Interpret(context.Background(), testHeaders(), domain.InterpretPayload{Text: "fed"})
			require.Error(t, err)
			failure, ok := domain.AsFailure(err)
			require.True(t, ok)
			require.Equal(t, domain.ErrorCodeTransport, failure.Code)
			require.True(t, failure.Retryable())
			require.ErrorIs(t, err, domain.ErrTransport)
		})
	}
}

func TestInterpretPassesCancellationThrough(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Interpret(ctx, testHeaders(), domain.InterpretPayload{Text: "fed"})
	require.ErrorIs(t, err, context.Canceled)
	_, isFailure := domain.AsFailure(err)
	require.False(t, isFailure)
}

func TestCommitActivitiesOmitsUnsetFields(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NotContains(t, string(raw), "null")
		require.NotContains(t, string(raw), "durationMinutes")

		var req graphqlRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Equal(t, "AddActivities", req.OperationName)
		activities, ok := req.Variables["activities"].([]any)
		require.True(t, ok)
		require.Len(t, activities, 1)

		writeData(t, w, `{"addActivities":{"id":"s-42","familyId":"`+testFamily.String()+`","status":"IN_PROGRESS","startedAt":"2026-10-19T08:00:00Z","completedAt":null,"notes":null}}`)
	})

	duration := 20
	result, err := client.CommitActivities(context.Background(), testHeaders(), domain.ProjectAll([]domain.ParsedActivity{
		domain.Feed{StartTime: started, DurationMinutes: &duration},
	}))
	require.NoError(t, err)
	require.Equal(t, "s-42", result.SessionID)
	require.Equal(t, testFamily.String(), result.FamilyID)
	require.Equal(t, domain.CareSessionInProgress, result.Status)
	require.Nil(t, result.CompletedAt)
}

func TestCommitActivitiesRejected(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"feed startTime is in the future"},{"message":"amountMl must be positive"}],"data":null}`)
	})

	_, err := client.CommitActivities(context.Background(), testHeaders(), []domain.ActivityInput{{ActivityType: domain.ActivityTypeFeed}})
	require.ErrorIs(t, err, domain.ErrCommitRejected)

	var failure *domain.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, "feed startTime is in the future; amountMl must be positive", failure.Message)
}

func TestCommitActivitiesUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := New(server.URL, WithLogger(observe.Discard()))

	_, err := client.CommitActivities(context.Background(), testHeaders(), []domain.ActivityInput{{ActivityType: domain.ActivityTypeFeed}})
	require.ErrorIs(t, err, domain.ErrTransport)
}

func TestSessionQueries(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeGraphQL(t, r)
		switch req.OperationName {
		case "GetCurrentSession":
			writeData(t, w, `{"getCurrentSession":{"id":"s-1","status":"IN_PROGRESS","startedAt":"2026-10-19T06:00:00Z",
				"caregiver":{"id":"c-1","name":"Sam"},
				"summary":{"totalFeeds":2,"totalMl":240,"totalDiaperChanges":1,"totalSleepMinutes":45,"lastFeedTime":"2026-10-19T08:30:00Z","currentlyAsleep":true}}}`)
		case "GetRecentCareSessions":
			require.EqualValues(t, DefaultRecentLimit, req.Variables["limit"])
			writeData(t, w, `{"getRecentCareSessions":[{"id":"s-0","status":"COMPLETED","startedAt":"2026-10-18T20:00:00Z","completedAt":"2026-10-19T06:00:00Z",
				"caregiver":{"id":"c-2","name":"Alex"},"summary":{"totalFeeds":1,"totalMl":90,"totalDiaperChanges":2,"totalSleepMinutes":480,"currentlyAsleep":false}}]}`)
		default:
			t.Errorf("unexpected operation %q", req.OperationName)
		}
	})

	current, err := client.CurrentSession(context.Background(), testHeaders())
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Equal(t, "Sam", current.Caregiver.Name)
	require.Equal(t, 240, current.Summary.TotalMl)
	require.True(t, current.Summary.CurrentlyAsleep)
	require.Nil(t, current.Summary.LastSleepTime)

	recent, err := client.RecentSessions(context.Background(), testHeaders(), 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, domain.CareSessionCompleted, recent[0].Status)
	require.NotNil(t, recent[0].CompletedAt)
}

func TestCurrentSessionMayBeAbsent(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(t, w, `{"getCurrentSession":null}`)
	})

	current, err := client.CurrentSession(context.Background(), testHeaders())
	require.NoError(t, err)
	require.Nil(t, current)
}

func TestGraphQLErrorsMessages(t *testing.T) {
	t.Parallel()

	errs := GraphQLErrors{{Message: " first "}, {Message: ""}, {Message: "second"}}
	require.Equal(t, []string{"first", "second"}, errs.Messages())
	require.True(t, strings.HasPrefix(errs.Error(), "first"))
}

func TestJoinFamily(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("X-Family-ID"))
		require.Equal(t, "America/Chicago", r.Header.Get("X-Timezone"))
		req := decodeGraphQL(t, r)
		require.Equal(t, "JoinFamily", req.OperationName)
		require.Equal(t, "device-1", req.Variables["deviceId"])
		require.NotContains(t, req.Variables, "deviceName")

		writeData(t, w, `{"joinFamily":{"success":true,"error":null,
			"family":{"id":"`+testFamily.String()+`","name":"The Parkers","babyName":"Juniper"},
			"caregiver":{"id":"`+testCaregiver.String()+`","name":"Sam"}}}`)
	})

	identity, err := client.JoinFamily(context.Background(), "America/Chicago", JoinRequest{
		FamilyName: "The Parkers", Password: "hunter2", CaregiverName: "Sam", DeviceID: "device-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.Identity{
		FamilyID:      testFamily,
		CaregiverID:   testCaregiver,
		CaregiverName: "Sam",
		FamilyName:    "The Parkers",
		BabyName:      "Juniper",
	}, identity)
}

func TestJoinFamilyRefused(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(t, w, `{"joinFamily":{"success":false,"error":"Invalid password","family":null,"caregiver":null}}`)
	})

	_, err := client.JoinFamily(context.Background(), "", JoinRequest{FamilyName: "x", Password: "y", CaregiverName: "z", DeviceID: "d"})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	require.ErrorContains(t, err, "Invalid password")
}

func TestCreateFamily(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("X-Family-ID"))
		req := decodeGraphQL(t, r)
		require.Equal(t, "CreateFamily", req.OperationName)
		require.Equal(t, "The Parkers", req.Variables["familyName"])
		require.Equal(t, "Juniper", req.Variables["babyName"])
		require.Equal(t, "Sam", req.Variables["caregiverName"])
		require.Equal(t, "laptop", req.Variables["deviceName"])

		writeData(t, w, `{"createFamily":{"success":true,"error":null,
			"family":{"id":"`+testFamily.String()+`","name":"The Parkers","babyName":"Juniper"},
			"caregiver":{"id":"`+testCaregiver.String()+`","name":"Sam"}}}`)
	})

	identity, err := client.CreateFamily(context.Background(), "UTC", CreateRequest{
		FamilyName: " The Parkers ", BabyName: "Juniper ", Password: "hunter2",
		CaregiverName: "Sam", DeviceID: "device-1", DeviceName: "laptop",
	})
	require.NoError(t, err)
	require.Equal(t, testFamily, identity.FamilyID)
	require.Equal(t, testCaregiver, identity.CaregiverID)
	require.Equal(t, "Juniper", identity.BabyName)
}

func TestCreateFamilyRefused(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(t, w, `{"createFamily":{"success":false,"error":"Family name already taken","family":null,"caregiver":null}}`)
	})

	_, err := client.CreateFamily(context.Background(), "", CreateRequest{
		FamilyName: "x", BabyName: "b", Password: "secret1", CaregiverName: "z", DeviceID: "d",
	})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	require.ErrorContains(t, err, "Family name already taken")
}

func TestCreateFamilyValidatesBeforeSending(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent for an invalid form")
	})

	tests := []struct {
		name string
		req  CreateRequest
		want string
	}{
		{name: "family", req: CreateRequest{BabyName: "b", Password: "secret1", CaregiverName: "z"}, want: "family name"},
		{name: "baby", req: CreateRequest{FamilyName: "x", BabyName: "  ", Password: "secret1", CaregiverName: "z"}, want: "baby name"},
		{name: "password", req: CreateRequest{FamilyName: "x", BabyName: "b", Password: "12345", CaregiverName: "z"}, want: "at least 6"},
		{name: "caregiver", req: CreateRequest{FamilyName: "x", BabyName: "b", Password: "secret1"}, want: "your name"},
	}
	for _, tt := range tests {
		_, err := client.CreateFamily(context.Background(), "", tt.req)
		require.ErrorContains(t, err, tt.want, tt.name)
	}
}
