package client

import "encoding/base64"

// AuthorizationHeader is the request header carrying Basic credentials.
const AuthorizationHeader = "Authorization"

// BasicAuthorization returns the Authorization header value for credentials
// that are already Base64-encoded in "username:password" form.
// The input is used as-is; a malformed value only shows up as a 401 from the server.
func BasicAuthorization(encodedCredentials string) string {
	return "Basic " + encodedCredentials
}

// EncodeCredentials Base64-encodes "username:password" for use with the
// request helpers.
func EncodeCredentials(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
