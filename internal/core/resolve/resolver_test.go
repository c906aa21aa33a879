package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/flotilla/internal/core/descriptor"
	"github.com/artpar/flotilla/internal/core/domain"
)

// =============================================================================
// ParseRefs Tests
// =============================================================================

func TestParseRefs_Literal(t *testing.T) {
	assert.Nil(t, ParseRefs("plain value"))
	assert.False(t, ContainsRef("plain value"))
}

func TestParseRefs_SingleToken(t *testing.T) {
	refs := ParseRefs("${{db.address}}")
	require.Len(t, refs, 1)
	assert.Equal(t, ServiceRef{Service: "db", Field: "address"}, refs[0])
}

func TestParseRefs_EmbeddedAndMultiple(t *testing.T) {
	refs := ParseRefs("postgres://${{db.address}}:${{db.port}}/app")
	require.Len(t, refs, 2)
	assert.Equal(t, ServiceRef{Service: "db", Field: "address"}, refs[0])
	assert.Equal(t, ServiceRef{Service: "db", Field: "port"}, refs[1])
}

func TestParseRefs_WhitespaceInsideBraces(t *testing.T) {
	refs := ParseRefs("${{ db.address }}")
	require.Len(t, refs, 1)
	assert.Equal(t, "db", refs[0].Service)
}

func TestParseRefs_DottedFieldName(t *testing.T) {
	refs := ParseRefs("${{cache.connection.url}}")
	require.Len(t, refs, 1)
	assert.Equal(t, "cache", refs[0].Service)
	assert.Equal(t, "connection.url", refs[0].Field)
}

func TestParseRefs_MalformedTokenIgnored(t *testing.T) {
	// Single braces and a missing field are not reference tokens.
	assert.Nil(t, ParseRefs("${db.address}"))
	assert.Nil(t, ParseRefs("${{db}}"))
}

// =============================================================================
// Resolve Tests
// =============================================================================

func healthyRecord(name string, outputs map[string]string) domain.Record {
	return domain.Record{
		Service: name,
		Phase:   domain.PhaseHealthy,
		Outputs: outputs,
	}
}

func TestResolve_LiteralsPassThrough(t *testing.T) {
	svc := descriptor.Service{
		Name:   "api",
		Config: map[string]string{"LOG_LEVEL": "debug"},
	}
	resolved, err := Resolve(svc, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"LOG_LEVEL": "debug"}, resolved)
}

func TestResolve_ExpandsAgainstHealthyDependency(t *testing.T) {
	svc := descriptor.Service{
		Name:      "api",
		DependsOn: []string{"db"},
		Config: map[string]string{
			"DB_URL": "postgres://${{db.address}}/app",
		},
	}
	records := map[string]domain.Record{
		"db": healthyRecord("db", map[string]string{"address": "db.internal:5432"}),
	}

	resolved, err := Resolve(svc, records)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db.internal:5432/app", resolved["DB_URL"])
}

func TestResolve_MultipleIndependentReferences(t *testing.T) {
	svc := descriptor.Service{
		Name:      "web",
		DependsOn: []string{"api", "cache"},
		Config: map[string]string{
			"API_URL":   "${{api.url}}",
			"CACHE_URL": "${{cache.url}}",
		},
	}
	records := map[string]domain.Record{
		"api":   healthyRecord("api", map[string]string{"url": "http://api.internal"}),
		"cache": healthyRecord("cache", map[string]string{"url": "redis://cache.internal"}),
	}

	resolved, err := Resolve(svc, records)
	require.NoError(t, err)
	assert.Equal(t, "http://api.internal", resolved["API_URL"])
	assert.Equal(t, "redis://cache.internal", resolved["CACHE_URL"])
}

func TestResolve_Idempotent(t *testing.T) {
	svc := descriptor.Service{
		Name:      "api",
		DependsOn: []string{"db"},
		Config:    map[string]string{"DB_URL": "${{db.address}}"},
	}
	records := map[string]domain.Record{
		"db": healthyRecord("db", map[string]string{"address": "db.internal"}),
	}

	first, err := Resolve(svc, records)
	require.NoError(t, err)
	second, err := Resolve(svc, records)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolve_UnknownService(t *testing.T) {
	svc := descriptor.Service{
		Name:   "api",
		Config: map[string]string{"DB_URL": "${{ghost.address}}"},
	}
	_, err := Resolve(svc, map[string]domain.Record{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownService)

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "api", resErr.Service)
	assert.Equal(t, "DB_URL", resErr.Key)
	assert.Equal(t, "ghost", resErr.Ref.Service)
}

func TestResolve_DependencyNotHealthy(t *testing.T) {
	svc := descriptor.Service{
		Name:   "api",
		Config: map[string]string{"DB_URL": "${{db.address}}"},
	}
	records := map[string]domain.Record{
		"db": {Service: "db", Phase: domain.PhaseFailed},
	}
	_, err := Resolve(svc, records)
	assert.ErrorIs(t, err, ErrDependencyNotHealthy)
}

func TestResolve_UnknownOutputField(t *testing.T) {
	svc := descriptor.Service{
		Name:   "api",
		Config: map[string]string{"DB_URL": "${{db.hostname}}"},
	}
	records := map[string]domain.Record{
		"db": healthyRecord("db", map[string]string{"address": "db.internal"}),
	}
	_, err := Resolve(svc, records)
	assert.ErrorIs(t, err, ErrUnknownOutput)
}

// =============================================================================
// ValidateRefs Tests
// =============================================================================

func TestValidateRefs_DeclaredDependency(t *testing.T) {
	services := []descriptor.Service{
		{Name: "db"},
		{
			Name:      "api",
			DependsOn: []string{"db"},
			Config:    map[string]string{"DB_URL": "${{db.address}}"},
		},
	}
	assert.NoError(t, ValidateRefs(services))
}

func TestValidateRefs_UndeclaredReferenceRejected(t *testing.T) {
	// api references db but never declares the dependency, so db is not
	// guaranteed to be sequenced earlier.
	services := []descriptor.Service{
		{Name: "db"},
		{
			Name:   "api",
			Config: map[string]string{"DB_URL": "${{db.address}}"},
		},
	}
	err := ValidateRefs(services)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefNotDeclared)
}
