package authz

import (
	"net"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// newEnv declares the variables and functions available to conditions:
//
//	token    map: sub, scopes, exp, iat, iss (empty without a token)
//	request  map: method, path, headers (lower-case keys), remote_addr, params, route
//	now      timestamp of the evaluation
//	ip_in_range(ip, cidr) bool
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("token", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
		cel.Function("ip_in_range",
			cel.Overload("ip_in_range_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(ipInRange),
			),
		),
	)
}

// ipInRange accepts a bare IP or host:port.
func ipInRange(ip, cidr ref.Val) ref.Val {
	ipStr, ok := ip.Value().(string)
	if !ok {
		return types.False
	}
	cidrStr, ok := cidr.Value().(string)
	if !ok {
		return types.False
	}

	if host, _, err := net.SplitHostPort(ipStr); err == nil {
		ipStr = host
	}
	parsed := net.ParseIP(ipStr)
	if parsed == nil {
		return types.False
	}

	_, network, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return types.False
	}
	return types.Bool(network.Contains(parsed))
}
