package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/venhook/internal/config"
	"github.com/mattjoyce/venhook/internal/storage"
	"github.com/mattjoyce/venhook/webhook"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCaptured(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion, origCommit, origBuildDate := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built

	t.Cleanup(func() {
		version, gitCommit, buildDate = origVersion, origCommit, origBuildDate
	})
}

func TestRunCLIUsage(t *testing.T) {
	code, _, stderr := runCaptured(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Usage:")

	code, _, stderr = runCaptured(t, "frobnicate")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")

	code, stdout, _ := runCaptured(t, "help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "venhook <command>")
}

func TestSignAndVerify(t *testing.T) {
	body := `{"status":"MessageDelivered","message":{"message_id":"m-1"}}`
	bodyFile := writeFile(t, "body.json", body)

	want, err := webhook.ComputeSignature([]byte("s3cret"), []byte(body), webhook.EncodingHex)
	require.NoError(t, err)

	code, stdout, _ := runCaptured(t, "sign", "--secret", "s3cret", "--file", bodyFile)
	require.Equal(t, exitOK, code)
	assert.Equal(t, want, strings.TrimSpace(stdout))

	code, stdout, _ = runCaptured(t, "verify", "--secret", "s3cret", "--signature", want, "--file", bodyFile)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "valid", strings.TrimSpace(stdout))

	code, stdout, _ = runCaptured(t, "verify", "--secret", "other", "--signature", want, "--file", bodyFile)
	assert.Equal(t, exitFail, code)
	assert.Equal(t, "invalid", strings.TrimSpace(stdout))

	code, stdout, _ = runCaptured(t, "sign", "--secret", "s3cret", "--file", bodyFile, "--encoding", "base64")
	require.Equal(t, exitOK, code)
	b64 := strings.TrimSpace(stdout)
	code, _, _ = runCaptured(t, "verify", "--secret", "s3cret", "--signature", b64, "--file", bodyFile, "--encoding", "base64")
	assert.Equal(t, exitOK, code)
}

func TestSignSecretFromEnv(t *testing.T) {
	t.Setenv(secretEnv, "env-secret")
	bodyFile := writeFile(t, "body.json", `{}`)

	want, err := webhook.ComputeSignature([]byte("env-secret"), []byte(`{}`), webhook.EncodingHex)
	require.NoError(t, err)

	code, stdout, _ := runCaptured(t, "sign", "--file", bodyFile)
	require.Equal(t, exitOK, code)
	assert.Equal(t, want, strings.TrimSpace(stdout))
}

func TestSignAndVerifyUsageErrors(t *testing.T) {
	t.Setenv(secretEnv, "")
	bodyFile := writeFile(t, "body.json", `{}`)

	code, _, stderr := runCaptured(t, "sign", "--file", bodyFile)
	assert.Equal(t, exitUsage, code, "empty secret is a usage error")
	assert.Contains(t, stderr, "secret")

	code, _, _ = runCaptured(t, "sign", "--secret", "x", "--file", bodyFile, "--encoding", "rot13")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runCaptured(t, "verify", "--signature", "abc", "--file", bodyFile)
	assert.Equal(t, exitUsage, code)

	code, _, _ = runCaptured(t, "sign", "--bogus")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runCaptured(t, "sign", "--secret", "x", "--file", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, exitFail, code)
}

func TestClassifyCommand(t *testing.T) {
	file := writeFile(t, "bounce.json", `{
		"original_message": {"message_id": "m-1", "to": "a@example.com", "tag": "campaign:77"},
		"bounce": {"type": "hard"}
	}`)

	code, stdout, _ := runCaptured(t, "classify", "--file", file)
	require.Equal(t, exitOK, code)

	var got webhook.Classification
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, webhook.KindBounce, got.Kind)
	assert.True(t, got.IsCampaignEvent)
	assert.Equal(t, "77", got.CampaignID)

	bad := writeFile(t, "bad.json", `{nope`)
	code, _, stderr := runCaptured(t, "classify", "--file", bad)
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stderr, "invalid JSON")
}

func TestNormalizeCommand(t *testing.T) {
	file := writeFile(t, "status.json", `{"status":"MessageHeld","message":{"message_id":"m-2","to":"b@example.com"}}`)

	code, stdout, _ := runCaptured(t, "normalize", "--file", file)
	require.Equal(t, exitOK, code)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.Equal(t, "m-2", got["messageId"])
	assert.Equal(t, "b@example.com", got["recipient"])
	assert.Equal(t, "MessageHeld", got["status"])
	assert.Contains(t, got, "campaignId")
	assert.Nil(t, got["campaignId"])
}

func TestAttachmentsCommand(t *testing.T) {
	file := writeFile(t, "mail.json", `{"message_id":"m","rcpt_to":"r","attachments":[
		{"filename":"a.pdf","size":2048,"attachment_id":"42"},
		{"filename":"b.png","size":10,"storage_url":"https://cdn/b.png","thumbnail_url":"https://cdn/b-thumb.png"}
	]}`)

	code, stdout, _ := runCaptured(t, "attachments", "--file", file, "--base-url", "https://mail.example.com/", "--threshold", "1KB")
	require.Equal(t, exitOK, code)

	var got attachmentReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	assert.True(t, got.LargeAttachments)
	require.Len(t, got.Attachments, 2)
	assert.Equal(t, "https://mail.example.com/api/v1/attachments/42/download", got.Attachments[0].DownloadURL)
	assert.Equal(t, "https://cdn/b.png", got.Attachments[1].DownloadURL)
	assert.Equal(t, "https://cdn/b-thumb.png", got.Attachments[1].Thumbnail)

	code, _, _ = runCaptured(t, "attachments", "--file", file, "--threshold", "lots")
	assert.Equal(t, exitUsage, code)
}

func TestEventsCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "venhook.db")
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	store := storage.NewEventStore(db)
	require.NoError(t, store.Save(ctx, storage.EventRecord{
		ID: "e1", Kind: "status", Source: "webhook", MessageID: "m-1",
		Status: "MessageDelivered", CampaignID: "9", ReceivedAt: time.Now(),
	}))
	require.NoError(t, store.Save(ctx, storage.EventRecord{
		ID: "e2", Kind: "mail", Source: "inbound", Recipient: "ops@example.com",
		LargeAttachments: true, ReceivedAt: time.Now().Add(time.Second),
	}))
	require.NoError(t, db.Close())

	code, stdout, _ := runCaptured(t, "events", "--db", dbPath)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "MessageDelivered")
	assert.Contains(t, stdout, "ops@example.com")
	assert.Contains(t, stdout, "total 2 (mail=1, status=1)")

	code, stdout, _ = runCaptured(t, "events", "--db", dbPath, "--limit", "1", "--json")
	require.Equal(t, exitOK, code)
	var recs []storage.EventRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "e2", recs[0].ID)

	code, _, _ = runCaptured(t, "events", "--db", filepath.Join(t.TempDir(), "none.db"))
	assert.Equal(t, exitFail, code)

	code, _, _ = runCaptured(t, "events", "--db", dbPath, "--limit", "0")
	assert.Equal(t, exitUsage, code)
}

func TestConfigCheckCommand(t *testing.T) {
	t.Setenv("VENHOOK_CONFIG", "")
	content := "listen: 127.0.0.1:9999\nwebhook:\n  secret: abc\n"
	path := writeFile(t, "venhook.yaml", content)

	code, stdout, _ := runCaptured(t, "config", "check", "--config", path)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "valid")
	assert.Contains(t, stdout, config.ComputeBlake3([]byte(content)))
	assert.Contains(t, stdout, "127.0.0.1:9999")

	code, _, _ = runCaptured(t, "config", "check", "--config", path, "--hash", config.ComputeBlake3([]byte(content)))
	assert.Equal(t, exitOK, code)

	code, stdout, _ = runCaptured(t, "config", "check", "--config", path, "--hash", "deadbeef")
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stdout, "integrity")

	invalid := writeFile(t, "bad.yaml", "webhook:\n  path: /x\n")
	code, stdout, _ = runCaptured(t, "config", "check", "--config", invalid)
	assert.Equal(t, exitFail, code)
	assert.Contains(t, stdout, "no secret")

	code, _, _ = runCaptured(t, "config", "check")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runCaptured(t, "config")
	assert.Equal(t, exitUsage, code)

	code, _, _ = runCaptured(t, "config", "lock")
	assert.Equal(t, exitUsage, code)
}

func TestServeRequiresConfig(t *testing.T) {
	t.Setenv("VENHOOK_CONFIG", "")
	code, _, stderr := runCaptured(t, "serve")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "--config is required")

	code, _, _ = runCaptured(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, exitFail, code)
}

func TestRunVersion(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef0123", "2026-03-01T10:00:00+02:00")

	code, stdout, _ := runCaptured(t, "version")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "venhook 1.2.3")
	assert.Contains(t, stdout, "commit: 0123456789ab")
	assert.Contains(t, stdout, "built_at: 2026-03-01T08:00:00Z")

	code, stdout, _ = runCaptured(t, "version", "--json")
	require.Equal(t, exitOK, code)
	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, versionInfo{Version: "1.2.3", Commit: "0123456789ab", BuildTime: "2026-03-01T08:00:00Z"}, info)

	code, _, _ = runCaptured(t, "version", "extra")
	assert.Equal(t, exitUsage, code)
}
