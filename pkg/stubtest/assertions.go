package stubtest

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/ohler55/ojg/jp"

	"github.com/getmockd/stubby/pkg/client"
)

// AssertStatus asserts the response status code.
func AssertStatus(t testing.TB, resp *client.Response, expected int) {
	t.Helper()
	if resp.StatusCode() != expected {
		t.Errorf("status does not match\nexpected: %d\nactual: %s\nbody: %s", expected, resp, resp.Body())
	}
}

// AssertHeader asserts the first value of a response header.
func AssertHeader(t testing.TB, resp *client.Response, key, expected string) {
	t.Helper()
	if got := resp.Header(key); got != expected {
		t.Errorf("header %q does not match\nexpected: %q\nactual: %q", key, expected, got)
	}
}

// AssertBody asserts the response body exactly.
func AssertBody(t testing.TB, resp *client.Response, expected string) {
	t.Helper()
	if resp.Body() != expected {
		t.Errorf("body does not match\nexpected: %q\nactual: %q", expected, resp.Body())
	}
}

// AssertBodyContains asserts that the response body contains substr.
func AssertBodyContains(t testing.TB, resp *client.Response, substr string) {
	t.Helper()
	if !strings.Contains(resp.Body(), substr) {
		t.Errorf("body does not contain %q\nbody: %s", substr, resp.Body())
	}
}

// JSONPath evaluates a JSONPath expression against the response body and
// returns every match. It fails the test when the body is not JSON or the
// expression does not parse.
func JSONPath(t testing.TB, resp *client.Response, path string) []any {
	t.Helper()

	expr, err := jp.ParseString(path)
	if err != nil {
		t.Fatalf("invalid JSONPath %q: %v", path, err)
	}

	var data any
	if err := json.Unmarshal([]byte(resp.Body()), &data); err != nil {
		t.Fatalf("response body is not valid JSON: %v\nbody: %s", err, resp.Body())
	}
	return expr.Get(data)
}

// AssertJSONPath asserts that the first JSONPath match equals expected.
// Numbers are compared after JSON normalization, so 200 matches float64(200).
func AssertJSONPath(t testing.TB, resp *client.Response, path string, expected any) {
	t.Helper()

	results := JSONPath(t, resp, path)
	if len(results) == 0 {
		t.Errorf("JSONPath %q matched nothing\nbody: %s", path, resp.Body())
		return
	}

	want, err := normalize(expected)
	if err != nil {
		t.Errorf("failed to normalize expected value: %v", err)
		return
	}
	if !reflect.DeepEqual(results[0], want) {
		t.Errorf("JSONPath %q does not match\nexpected: %#v\nactual: %#v", path, want, results[0])
	}
}

// AssertJSONPathExists asserts that a JSONPath expression matches something.
func AssertJSONPathExists(t testing.TB, resp *client.Response, path string) {
	t.Helper()
	if len(JSONPath(t, resp, path)) == 0 {
		t.Errorf("JSONPath %q matched nothing\nbody: %s", path, resp.Body())
	}
}

func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
