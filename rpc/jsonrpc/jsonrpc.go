// Package jsonrpc implements JSON-RPC 2.0 over a raw TCP stream or over
// HTTP POST framing. Both share the service registry and the sinfo value
// model with every other transport.
package jsonrpc

import (
	asyncrpc "github.com/behrlich/go-asyncrpc"
	"github.com/behrlich/go-asyncrpc/rpc"
	"github.com/behrlich/go-asyncrpc/sinfo"
)

const version = "2.0"

// ContentType is sent and expected on the HTTP framing.
const ContentType = "application/json"

// buildRequest assembles one request object.
func buildRequest(method string, args []*sinfo.Info, id int64) *sinfo.Info {
	req := sinfo.New()
	req.AddMember("jsonrpc").SetString(version)
	req.AddMember("method").SetString(method)
	params := req.AddMember("params")
	params.SetCategory(sinfo.Array)
	for _, a := range args {
		cp := a.Clone()
		cp.SetName("")
		child := params.AddMember("")
		*child = *cp
	}
	req.AddMember("id").SetInt(id)
	return req
}

// buildResponse assembles a result or error object mirroring req's id.
func buildResponse(id *sinfo.Info, res *sinfo.Info, fault *rpc.Fault) *sinfo.Info {
	out := sinfo.New()
	out.AddMember("jsonrpc").SetString(version)
	if fault != nil {
		e := out.AddMember("error")
		e.AddMember("code").SetInt(int64(fault.Code))
		e.AddMember("message").SetString(fault.Text)
	} else {
		cp := res.Clone()
		cp.SetName("result")
		child := out.AddMember("result")
		*child = *cp
	}
	idNode := out.AddMember("id")
	if id != nil {
		cp := id.Clone()
		cp.SetName("id")
		*idNode = *cp
	} else {
		idNode.SetNull()
	}
	return out
}

// parseResponse extracts (id, result, fault) from a response object.
func parseResponse(resp *sinfo.Info) (int64, *sinfo.Info, *rpc.Fault, error) {
	var id int64 = -1
	if idNode := resp.FindMember("id"); idNode != nil && !idNode.IsNull() {
		v, err := idNode.Int()
		if err != nil {
			return -1, nil, nil, asyncrpc.SerializationError("response id is not an integer")
		}
		id = v
	}

	if e := resp.FindMember("error"); e != nil && !e.IsNull() {
		codeNode, err := e.Member("code")
		if err != nil {
			return id, nil, nil, err
		}
		code, err := codeNode.Int()
		if err != nil {
			return id, nil, nil, err
		}
		msg := ""
		if m := e.FindMember("message"); m != nil {
			msg, _ = m.Str()
		}
		return id, nil, &rpc.Fault{Code: int(code), Text: msg}, nil
	}

	res := resp.FindMember("result")
	if res == nil {
		return id, nil, nil, asyncrpc.SerializationError("response carries neither result nor error")
	}
	return id, res, nil, nil
}

// parseRequest extracts (method, params, id) from a request object.
func parseRequest(req *sinfo.Info) (string, []*sinfo.Info, *sinfo.Info, error) {
	methodNode, err := req.Member("method")
	if err != nil {
		return "", nil, nil, err
	}
	method, err := methodNode.Str()
	if err != nil {
		return "", nil, nil, err
	}

	var params []*sinfo.Info
	if p := req.FindMember("params"); p != nil && !p.IsNull() {
		if p.Category() != sinfo.Array {
			return "", nil, nil, asyncrpc.SerializationError("params must be an array")
		}
		params = make([]*sinfo.Info, p.MemberCount())
		for i := range params {
			params[i] = p.MemberAt(i)
		}
	}

	return method, params, req.FindMember("id"), nil
}
