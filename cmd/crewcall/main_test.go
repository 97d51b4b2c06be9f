package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	actions  []string
	fields   []string
	routes   []string
	backs    int
	doErr    error
	doResult any
}

func (f *fakeCore) Do(_ context.Context, action string, fields json.RawMessage) (any, error) {
	f.actions = append(f.actions, action)
	f.fields = append(f.fields, string(fields))
	return f.doResult, f.doErr
}

func (f *fakeCore) Navigate(route string, _ map[string]string) { f.routes = append(f.routes, route) }

func (f *fakeCore) Back() { f.backs++ }

type fakeLinks struct{ got []string }

func (f *fakeLinks) Deliver(raw string) { f.got = append(f.got, raw) }

func feed(t *testing.T, c *fakeCore, line string) (*fakeLinks, []event) {
	t.Helper()
	var buf bytes.Buffer
	links := &fakeLinks{}
	handleLine(context.Background(), c, links, &output{enc: json.NewEncoder(&buf)}, line)

	var events []event
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var ev event
		require.NoError(t, dec.Decode(&ev))
		events = append(events, ev)
	}
	return links, events
}

func TestIsDeepLink(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"crewcall://reset-password#access_token=a&refresh_token=b", true},
		{"https://app.example/auth/callback?code=xyz", true},
		{`{"action":"save_profile","fields":{"portfolio_url":"https://ada.dev"}}`, false},
		{`{"navigate":"chats","params":{"id":"42"}}`, false},
		{"hello", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, isDeepLink(tt.line))
		})
	}
}

func TestHandleLine_CommandWithURLFieldRuns(t *testing.T) {
	c := &fakeCore{doResult: map[string]string{"full_name": "Ada"}}
	line := `{"action":"save_profile","fields":{"full_name":"Ada","portfolio_url":"https://ada.dev"}}`

	links, events := feed(t, c, line)

	assert.Empty(t, links.got)
	assert.Equal(t, []string{"save_profile"}, c.actions)
	assert.JSONEq(t, `{"full_name":"Ada","portfolio_url":"https://ada.dev"}`, c.fields[0])
	require.Len(t, events, 1)
	assert.Equal(t, "result", events[0].Type)
	assert.True(t, events[0].OK)
}

func TestHandleLine_DeepLinkDelivered(t *testing.T) {
	c := &fakeCore{}
	links, events := feed(t, c, "crewcall://auth/callback?code=abc")

	assert.Equal(t, []string{"crewcall://auth/callback?code=abc"}, links.got)
	assert.Empty(t, c.actions)
	assert.Empty(t, events)
}

func TestHandleLine_Commands(t *testing.T) {
	c := &fakeCore{doErr: errors.New("invalid login credentials")}

	feed(t, c, `{"navigate":"signup"}`)
	feed(t, c, `{"back":true}`)
	_, events := feed(t, c, `{"action":"sign_in","fields":{}}`)
	_, bad := feed(t, c, `{not json`)

	assert.Equal(t, []string{"signup"}, c.routes)
	assert.Equal(t, 1, c.backs)
	require.Len(t, events, 1)
	assert.False(t, events[0].OK)
	assert.Equal(t, "invalid login credentials", events[0].Error)
	require.Len(t, bad, 1)
	assert.Equal(t, "malformed command", bad[0].Error)
}
