package inventory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synopsis/internal/core"
	"synopsis/pkg/domain"
)

const sampleSeed = `
hosts:
  - name: web01
    endpoint: 10.0.0.1
    services:
      - name: http
        alias: HTTP
      - name: web01-ping
  - name: db01
    endpoint: db01.example.com:5432
    services:
      - name: postgres
        alias: PostgreSQL
hostgroups:
  - name: linux
    members: [web01, db01]
  - name: frontend
    members: [web01]
servicegroups:
  - name: checks
    members: [http, postgres]
`

func TestDecodeAndApply(t *testing.T) {
	ctx := context.Background()
	seed, err := Decode(strings.NewReader(sampleSeed))
	require.NoError(t, err)

	svc := core.NewInMemoryService(core.NewRulesEngine())
	sum, _, err := Apply(ctx, svc.Store(), seed)
	require.NoError(t, err)
	assert.Equal(t, Summary{
		HostsCreated:         2,
		ServicesCreated:      3,
		HostGroupsCreated:    2,
		ServiceGroupsCreated: 1,
		MembershipsAdded:     5,
	}, sum)

	hosts, err := svc.ListHosts(ctx, nil)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "web01", hosts[0].Name)
	assert.ElementsMatch(t, []string{"http", "web01-ping"}, hosts[0].Services)
	assert.ElementsMatch(t, []string{"linux", "frontend"}, hosts[0].Groups)

	groups, err := svc.ListHostGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.ElementsMatch(t, []string{"web01", "db01"}, groups[0].Members)
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	seed, err := Decode(strings.NewReader(sampleSeed))
	require.NoError(t, err)
	svc := core.NewInMemoryService(core.NewRulesEngine())

	_, _, err = Apply(ctx, svc.Store(), seed)
	require.NoError(t, err)
	sum, _, err := Apply(ctx, svc.Store(), seed)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, sum)

	seed.Hosts[0].Endpoint = "10.0.0.9"
	seed.Hosts[1].Services[0].Alias = "PG"
	sum, _, err = Apply(ctx, svc.Store(), seed)
	require.NoError(t, err)
	assert.Equal(t, Summary{HostsUpdated: 1, ServicesUpdated: 1}, sum)

	hosts, err := svc.ListHosts(ctx, domain.NameEquals("web01"))
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "10.0.0.9", hosts[0].Endpoint)
}

func TestApplyResolvesStoredMembers(t *testing.T) {
	ctx := context.Background()
	svc := core.NewInMemoryService(core.NewRulesEngine())
	_, _, err := svc.CreateHost(ctx, "legacy", "10.1.0.1")
	require.NoError(t, err)

	seed := &Seed{HostGroups: []GroupSeed{{Name: "old", Members: []string{"legacy"}}}}
	sum, _, err := Apply(ctx, svc.Store(), seed)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.MembershipsAdded)

	groups, err := svc.ListHostGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"legacy"}, groups[0].Members)
}

func TestApplyUnknownMemberRollsBack(t *testing.T) {
	ctx := context.Background()
	svc := core.NewInMemoryService(core.NewRulesEngine())
	seed := &Seed{
		Hosts:      []HostSeed{{Name: "web01", Endpoint: "10.0.0.1"}},
		HostGroups: []GroupSeed{{Name: "linux", Members: []string{"web01", "ghost"}}},
	}
	_, _, err := Apply(ctx, svc.Store(), seed)
	require.ErrorIs(t, err, ErrUnknownMember)
	assert.Contains(t, err.Error(), "ghost")

	hosts, err := svc.ListHosts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestDecodeRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "hosts:\n  - name: a\n    endpoint: b\n    color: red\n",
		"missing name":    "hosts:\n  - endpoint: 10.0.0.1\n",
		"long name":       "hostgroups:\n  - name: " + strings.Repeat("x", 65) + "\n",
		"duplicate host":  "hosts:\n  - {name: a, endpoint: b}\n  - {name: a, endpoint: c}\n",
		"duplicate group": "servicegroups:\n  - name: g\n  - name: g\n",
		"empty member":    "hostgroups:\n  - name: g\n    members: ['']\n",
		"malformed":       "hosts: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestDecodeEmptyDocument(t *testing.T) {
	seed, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, seed.Hosts)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSeed), 0o600))
	seed, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, seed.Hosts, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
