// Package flows contains pure-function orchestrators for every Authenticator
// operation.
//
// Each flow function (RunAuthenticate, RunLogin, RunLogout, ...) accepts a typed
// dependency struct and returns a result without side effects beyond those
// dependencies. The root package maps results onto errors, metrics and audit events.
package flows
