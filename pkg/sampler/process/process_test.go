package process

import (
	"testing"

	"github.com/hostmon/symon/pkg/sampler"
	"github.com/hostmon/symon/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInventory struct {
	ticks [][]Info
	call  int
}

func (f *fakeInventory) Enumerate() ([]Info, error) {
	if f.call >= len(f.ticks) {
		return nil, nil
	}
	out := f.ticks[f.call]
	f.call++
	return out, nil
}

func newSampler(t *testing.T, commands []string, ticks [][]Info) *Sampler {
	t.Helper()
	s := NewSampler(&fakeInventory{ticks: ticks}, nil)
	require.NoError(t, s.Init(streamConfigs(commands)))
	return s
}

func streamConfigs(commands []string) []sampler.StreamConfig {
	out := make([]sampler.StreamConfig, len(commands))
	for i, c := range commands {
		out[i] = sampler.StreamConfig{Type: wire.TypeProcess, Arg: c}
	}
	return out
}

func TestSamplerFirstTickSuppressed(t *testing.T) {
	s := newSampler(t, []string{"sshd"}, [][]Info{
		{{PID: 1, Command: "sshd", UTimeTicks: 10, STimeTicks: 5}},
	})
	recs, err := s.SampleAll()
	require.NoError(t, err)
	assert.Empty(t, recs, "epoch 1 has no prior accumulator to diff against")
}

func TestSamplerSecondTickProducesRecord(t *testing.T) {
	s := newSampler(t, []string{"sshd"}, [][]Info{
		{{PID: 1, Command: "sshd", UTimeTicks: 10, STimeTicks: 5, VSizeBytes: 100, RSSBytes: 50}},
		{{PID: 1, Command: "sshd", UTimeTicks: 30, STimeTicks: 15, VSizeBytes: 120, RSSBytes: 60}},
	})
	_, err := s.SampleAll()
	require.NoError(t, err)

	recs, err := s.SampleAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, wire.TypeProcess, rec.Type)
	assert.Equal(t, "sshd", rec.Arg)
	assert.Equal(t, uint32(1), rec.Process.Count)
	assert.Equal(t, uint64(120), rec.Process.VSizeBytes)
	assert.Equal(t, uint64(60), rec.Process.RSSBytes)
	assert.Greater(t, rec.Process.UTimeUsec, uint64(0))
}

func TestSamplerNoMatchEmitsNothing(t *testing.T) {
	s := newSampler(t, []string{"sshd"}, [][]Info{
		{{PID: 1, Command: "sshd", UTimeTicks: 10}},
		{}, // sshd exited, nothing matches this tick
	})
	_, err := s.SampleAll()
	require.NoError(t, err)
	recs, err := s.SampleAll()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSamplerSumsMultipleProcesses(t *testing.T) {
	s := newSampler(t, []string{"nginx"}, [][]Info{
		{
			{PID: 1, Command: "nginx", UTimeTicks: 10, STimeTicks: 5, RSSBytes: 1000},
			{PID: 2, Command: "nginx", UTimeTicks: 20, STimeTicks: 10, RSSBytes: 2000},
		},
		{
			{PID: 1, Command: "nginx", UTimeTicks: 15, STimeTicks: 8, RSSBytes: 1000},
			{PID: 2, Command: "nginx", UTimeTicks: 25, STimeTicks: 12, RSSBytes: 2000},
		},
	})
	_, err := s.SampleAll()
	require.NoError(t, err)
	recs, err := s.SampleAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint32(2), recs[0].Process.Count)
	assert.Equal(t, uint64(3000), recs[0].Process.RSSBytes)
}

func TestSamplerSaturatingDiffOnCounterDrop(t *testing.T) {
	s := newSampler(t, []string{"sshd"}, [][]Info{
		{{PID: 1, Command: "sshd", UTimeTicks: 100, STimeTicks: 50}},
		// pid restarted, ticks reset lower than before — must not underflow
		{{PID: 2, Command: "sshd", UTimeTicks: 5, STimeTicks: 2}},
	})
	_, err := s.SampleAll()
	require.NoError(t, err)
	recs, err := s.SampleAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(0), recs[0].Process.UTimeUsec)
	assert.Equal(t, uint64(0), recs[0].Process.STimeUsec)
}

func TestSamplerDuplicateCommandRejectedAtInit(t *testing.T) {
	s := NewSampler(&fakeInventory{}, nil)
	err := s.Init(streamConfigs([]string{"nginx", "nginx"}))
	assert.Error(t, err)
}

func TestSamplerLongCommandScenario(t *testing.T) {
	s := newSampler(t, []string{"postgresql-15"}, [][]Info{
		{
			{PID: 1, Command: "postgres", UTimeTicks: 10},
			{PID: 2, Command: "postgresql-15", UTimeTicks: 20, STimeTicks: 4},
			{PID: 3, Command: "postgres-backup", UTimeTicks: 30},
		},
		{
			{PID: 1, Command: "postgres", UTimeTicks: 12},
			{PID: 2, Command: "postgresql-15", UTimeTicks: 28, STimeTicks: 9},
			{PID: 3, Command: "postgres-backup", UTimeTicks: 33},
		},
	})
	_, err := s.SampleAll()
	require.NoError(t, err)
	recs, err := s.SampleAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint32(1), recs[0].Process.Count)
	assert.Greater(t, recs[0].Process.UTimeUsec, uint64(0))
}
