package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clip-metrics/config"
	"clip-metrics/scraper/sound"
	"clip-metrics/storage"
	"clip-metrics/utils"
)

func TestBuildTable(t *testing.T) {
	ctx := context.Background()

	table, err := buildTable(ctx, &config.Config{SinkBackend: "memory"}, utils.Discard())
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryTable{}, table)

	table, err = buildTable(ctx, &config.Config{SinkBackend: "XLSX", WorkbookPath: filepath.Join(t.TempDir(), "m.xlsx")}, utils.Discard())
	require.NoError(t, err)
	assert.IsType(t, &storage.WorkbookTable{}, table)

	_, err = buildTable(ctx, &config.Config{SinkBackend: "sheets"}, utils.Discard())
	assert.Error(t, err, "a spreadsheet id is required")

	_, err = buildTable(ctx, &config.Config{SinkBackend: "parquet"}, utils.Discard())
	assert.Error(t, err)
}

func TestBuildLocker(t *testing.T) {
	locker, closeFn, err := buildLocker(&config.Config{LockBackend: "file", WorkDir: t.TempDir(), LockTTLSec: 5})
	require.NoError(t, err)
	assert.IsType(t, &storage.FileLock{}, locker)
	assert.Nil(t, closeFn)

	locker, closeFn, err = buildLocker(&config.Config{LockBackend: "redis", RedisAddr: "127.0.0.1:0", LockTTLSec: 5})
	require.NoError(t, err)
	assert.IsType(t, &storage.RedisLock{}, locker)
	require.NotNil(t, closeFn)
	assert.NoError(t, closeFn())

	locker, _, err = buildLocker(&config.Config{LockBackend: "none"})
	require.NoError(t, err)
	assert.IsType(t, storage.NopLocker{}, locker)

	_, _, err = buildLocker(&config.Config{LockBackend: "zookeeper"})
	assert.Error(t, err)
}

func TestBuildRendererAndExtractor(t *testing.T) {
	assert.IsType(t, &sound.HTTPRenderer{}, buildRenderer(&config.Config{SoundRenderer: "http"}))
	assert.IsType(t, &sound.ChromeRenderer{}, buildRenderer(&config.Config{SoundRenderer: "chrome"}))

	assert.Nil(t, buildExtractor(&config.Config{}, utils.Discard()))
	assert.NotNil(t, buildExtractor(&config.Config{OpenAIAPIKey: "k", OpenAIModel: "m"}, utils.Discard()))
}

func TestStageFlags(t *testing.T) {
	dryRun = false
	assert.Equal(t, []string{"--chain"}, stageFlags("--chain"))

	dryRun = true
	t.Cleanup(func() { dryRun = false })
	assert.Equal(t, []string{"--chain", "--dry-run"}, stageFlags("--chain"))
	assert.Equal(t, []string{"--dry-run"}, stageFlags())
}

func TestCollectInputsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://www.tiktok.com/@a/video/1\n\nhttps://www.instagram.com/p/abc/\n"), 0644))

	inputFile = path
	t.Cleanup(func() { inputFile = "" })

	got, err := collectInputs(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.tiktok.com/@a/video/1", "", "https://www.instagram.com/p/abc/"}, got)

	got, err = collectInputs([]string{"x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got, "arguments win over the file")
}
