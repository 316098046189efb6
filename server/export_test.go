package server

// VerifySessionCookie returns the session id a signed cookie value carries.
func (s *Server) VerifySessionCookie(value string) (string, bool) {
	return s.cookies.Verify(value)
}
