// internal/rules/oracle.go
package rules

import "github.com/solatis/uploadwaf/internal/types"

// Oracle is the external detection capability behind managed rule groups.
// Consult is only invoked when the group's scope-down (if any) evaluates true.
// An error means the detector could not answer; the engine treats it as
// "no match" for that group and logs it.
type Oracle interface {
	Consult(vendor, name string, attrs types.RequestAttributes) (bool, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(vendor, name string, attrs types.RequestAttributes) (bool, error)

// Consult calls f.
func (f OracleFunc) Consult(vendor, name string, attrs types.RequestAttributes) (bool, error) {
	return f(vendor, name, attrs)
}

// abstainOracle never flags a request. Used when no detector is configured.
type abstainOracle struct{}

func (abstainOracle) Consult(string, string, types.RequestAttributes) (bool, error) {
	return false, nil
}
