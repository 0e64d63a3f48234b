package contextprovider

import (
	"sort"
	"strconv"
	"strings"
)

// Provider kinds shipped with synth.
const (
	KindEndpointServiceAZs = "endpoint-service-availability-zones"
	KindSSMParameter       = "ssm"
	KindAvailabilityZones  = "availability-zones"
)

// Parameter names understood by the built-in plugins.
const (
	ParamServiceName   = "serviceName"
	ParamParameterName = "parameterName"
)

// Query is a request for one environment-dependent value. Treat it as
// immutable once built: it is used by value as a cache key.
type Query struct {
	Kind          string            `json:"kind" yaml:"kind" validate:"required"`
	Account       string            `json:"account" yaml:"account" validate:"required"`
	Region        string            `json:"region" yaml:"region" validate:"required"`
	Params        map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	LookupRoleARN string            `json:"lookupRoleArn,omitempty" yaml:"lookup_role_arn,omitempty"`
}

// NewQuery builds a query. params is copied.
func NewQuery(kind, account, region string, params map[string]string) Query {
	q := Query{
		Kind:    kind,
		Account: account,
		Region:  region,
	}
	if len(params) > 0 {
		q.Params = make(map[string]string, len(params))
		for k, v := range params {
			q.Params[k] = v
		}
	}
	return q
}

// WithLookupRole returns a copy of q that resolves under the given role.
func (q Query) WithLookupRole(arn string) Query {
	out := NewQuery(q.Kind, q.Account, q.Region, q.Params)
	out.LookupRoleARN = arn
	return out
}

// Param returns the named parameter and whether it is set and non-empty.
func (q Query) Param(name string) (string, bool) {
	v, ok := q.Params[name]
	return v, ok && v != ""
}

// Key returns a canonical encoding of every field of q. Two queries have the
// same key if and only if they are structurally equal.
func (q Query) Key() string {
	var b strings.Builder
	writeField := func(s string) {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
		b.WriteByte(';')
	}

	writeField(q.Kind)
	writeField(q.Account)
	writeField(q.Region)
	writeField(q.LookupRoleARN)

	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(k)
		writeField(q.Params[k])
	}
	return b.String()
}

// String is a short human-readable description used in logs and errors.
func (q Query) String() string {
	parts := []string{q.Kind, q.Account, q.Region}
	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, q.Params[k])
	}
	return strings.Join(parts, ":")
}
