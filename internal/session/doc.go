// Package session mints and verifies the signed credential carried in the
// _auth_token cookie.
//
// A token is an HS256 JWT holding the Discord user id (user_id), the Discord
// access token (discord_token) and a fixed expiry (exp). Verification is
// pure: it never touches the network and fails closed on any defect.
//
// The upstream token is readable by anyone holding the cookie, since the JWT
// is signed but not encrypted. The cookie is HttpOnly for that reason.
package session
