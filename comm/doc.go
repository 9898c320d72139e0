// Package comm emulates network communication for guest code.
//
// Outbound traffic goes through SendMess and OpenConn. Inbound traffic
// is registered with RecvMess and WaitForConn: the listening socket is
// handed to a dispatcher goroutine that polls every registered socket
// and, for each ready one, reserves an events token and delivers one
// datagram or one accepted connection to the guest callback on a
// worker.
//
// Every transfer first waits for headroom on the relevant renewable
// resource (loopsend/looprecv when the peer is a loopback address,
// netsend/netrecv otherwise) and then charges the bytes actually moved.
// Ports must be in the messport or connport allow-sets, listeners hold
// an insockets token and connections an outsockets token.
//
// StopComm is the single close path for every comm handle. It is
// idempotent, and for listeners it only returns once the operating
// system no longer reports the local endpoint as bound.
package comm
