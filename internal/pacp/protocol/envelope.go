package protocol

import (
	"encoding/json"
	"fmt"
)

// P/ACP envelope methods (§4.3). A component addresses its successor by
// wrapping the inner frame as the params of one of these two methods and
// sending it to the conductor link that owns it; the link unwraps it,
// forwards the inner frame to the successor, and (for requests) wraps the
// eventual inner response back into the outer response's result.
const (
	MethodProxySuccessorRequest      = "_proxy/successor/request"
	MethodProxySuccessorNotification = "_proxy/successor/notification"
)

// WrapRequest builds the outer envelope request a component sends to ask
// its link to forward inner to the successor and correlate the response.
// outerID is assigned by the caller's own id space, not derived from inner.
// The inner frame is carried as params directly, not nested under a
// further key.
func WrapRequest(outerID json.RawMessage, inner *Frame) (*Frame, error) {
	params, err := inner.Marshal()
	if err != nil {
		return nil, fmt.Errorf("wrap request: %w", err)
	}
	return &Frame{ID: outerID, Method: MethodProxySuccessorRequest, Params: params}, nil
}

// WrapNotification builds the outer envelope notification a component
// sends to forward a one-way inner message to the successor.
func WrapNotification(inner *Frame) (*Frame, error) {
	params, err := inner.Marshal()
	if err != nil {
		return nil, fmt.Errorf("wrap notification: %w", err)
	}
	return &Frame{Method: MethodProxySuccessorNotification, Params: params}, nil
}

// UnwrapRequest extracts the inner frame carried by an envelope request.
// The caller still owns outer.ID for building the eventual WrapResponse.
func UnwrapRequest(outer *Frame) (*Frame, error) {
	if outer.Method != MethodProxySuccessorRequest {
		return nil, fmt.Errorf("unwrap request: not a %s frame", MethodProxySuccessorRequest)
	}
	return ParseFrame(outer.Params)
}

// UnwrapNotification extracts the inner frame carried by an envelope
// notification.
func UnwrapNotification(outer *Frame) (*Frame, error) {
	if outer.Method != MethodProxySuccessorNotification {
		return nil, fmt.Errorf("unwrap notification: not a %s frame", MethodProxySuccessorNotification)
	}
	return ParseFrame(outer.Params)
}

// WrapResponse builds the outer response a link sends back to the
// component that issued an envelope request, once the inner response has
// arrived from the successor: {id: outerID, result: <inner frame>}. A
// link-level failure to reach the successor is reported as an outer
// JSON-RPC error instead (see NewChainShutdownError and friends), not as
// this success shape.
func WrapResponse(outerID json.RawMessage, innerResp *Frame) (*Frame, error) {
	result, err := innerResp.Marshal()
	if err != nil {
		return nil, fmt.Errorf("wrap response: %w", err)
	}
	return &Frame{ID: outerID, Result: result}, nil
}

// UnwrapResponse extracts the inner response frame from the outer
// envelope response a link sent back. If outer carries an RPCError
// instead of a result, that error is returned directly: it describes a
// link-level failure (chain shutdown, successor crash), not an
// application-level inner error.
func UnwrapResponse(outer *Frame) (*Frame, error) {
	if outer.Error != nil {
		return nil, outer.Error
	}
	return ParseFrame(outer.Result)
}
