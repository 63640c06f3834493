package ucs

import (
	"encoding/xml"
	"fmt"
)

// Error is a fault reported by the UCS Manager XML API. Every response
// element can carry an errorCode/errorDescr attribute pair; a non-empty
// code means the request failed.
type Error struct {
	Code  string
	Descr string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ucs fault %s: %s", e.Code, e.Descr)
}

// sessionExpired reports whether the fault means the session cookie is no
// longer valid (code 552, "Authorization required").
func (e *Error) sessionExpired() bool {
	return e.Code == "552"
}

// Method names and class identifiers of the XML API surface this client
// drives.
const (
	classVnicEther  = "vnicEther"
	classHostPack   = "firmwareComputeHostPack"
	classMaintAck   = "lsmaintAck"
	ackTriggerNow   = "trigger-immediate"
	powerActionUp   = "up"
	powerActionDown = "down"
)

type aaaLoginRequest struct {
	XMLName    xml.Name `xml:"aaaLogin"`
	InName     string   `xml:"inName,attr"`
	InPassword string   `xml:"inPassword,attr"`
}

type aaaLogoutRequest struct {
	XMLName  xml.Name `xml:"aaaLogout"`
	InCookie string   `xml:"inCookie,attr"`
}

type resolveClassRequest struct {
	XMLName        xml.Name  `xml:"configResolveClass"`
	Cookie         string    `xml:"cookie,attr"`
	ClassID        string    `xml:"classId,attr"`
	InHierarchical string    `xml:"inHierarchical,attr"`
	InFilter       *inFilter `xml:"inFilter"`
}

type resolveChildrenRequest struct {
	XMLName        xml.Name `xml:"configResolveChildren"`
	Cookie         string   `xml:"cookie,attr"`
	InDn           string   `xml:"inDn,attr"`
	ClassID        string   `xml:"classId,attr"`
	InHierarchical string   `xml:"inHierarchical,attr"`
}

type resolveDnRequest struct {
	XMLName        xml.Name `xml:"configResolveDn"`
	Cookie         string   `xml:"cookie,attr"`
	Dn             string   `xml:"dn,attr"`
	InHierarchical string   `xml:"inHierarchical,attr"`
}

type confMoRequest struct {
	XMLName        xml.Name `xml:"configConfMo"`
	Cookie         string   `xml:"cookie,attr"`
	Dn             string   `xml:"dn,attr"`
	InHierarchical string   `xml:"inHierarchical,attr"`
	InConfig       inConfig `xml:"inConfig"`
}

// inFilter is the property filter subtree of a class query. Only equality
// filters are needed here.
type inFilter struct {
	Eq *eqFilter `xml:"eq"`
}

type eqFilter struct {
	Class    string `xml:"class,attr"`
	Property string `xml:"property,attr"`
	Value    string `xml:"value,attr"`
}

// inConfig carries exactly one managed object in a configConfMo request.
// Nil members are omitted from the document.
type inConfig struct {
	Server *lsServerMo   `xml:"lsServer"`
	Power  *lsPowerMo    `xml:"lsPower"`
	Ack    *lsmaintAckMo `xml:"lsmaintAck"`
}

// Managed-object shapes, shared between queries and configConfMo payloads.

type vnicEtherMo struct {
	DN   string `xml:"dn,attr"`
	Addr string `xml:"addr,attr"`
}

type hostPackMo struct {
	DN   string `xml:"dn,attr"`
	Name string `xml:"name,attr"`
}

type lsServerMo struct {
	DN               string `xml:"dn,attr"`
	Name             string `xml:"name,attr,omitempty"`
	AssocState       string `xml:"assocState,attr,omitempty"`
	OperState        string `xml:"operState,attr,omitempty"`
	HostFwPolicyName string `xml:"hostFwPolicyName,attr,omitempty"`
	PnDn             string `xml:"pnDn,attr,omitempty"`
}

type lsPowerMo struct {
	DN    string `xml:"dn,attr"`
	State string `xml:"state,attr"`
}

type lsmaintAckMo struct {
	DN         string `xml:"dn,attr"`
	AdminState string `xml:"adminState,attr,omitempty"`
	OperState  string `xml:"operState,attr,omitempty"`
	Descr      string `xml:"descr,attr,omitempty"`
}

// computeMo covers both computeBlade and computeRackUnit; only the power
// attribute is consumed.
type computeMo struct {
	DN        string `xml:"dn,attr"`
	OperPower string `xml:"operPower,attr"`
}

// loginResponse decodes the aaaLogin reply.
type loginResponse struct {
	XMLName    xml.Name
	OutCookie  string `xml:"outCookie,attr"`
	OutVersion string `xml:"outVersion,attr"`
}

// classResponse decodes configResolveClass and configResolveChildren
// replies; unknown children of outConfigs are ignored.
type classResponse struct {
	XMLName    xml.Name
	OutConfigs struct {
		Vnics []vnicEtherMo  `xml:"vnicEther"`
		Packs []hostPackMo   `xml:"firmwareComputeHostPack"`
		Acks  []lsmaintAckMo `xml:"lsmaintAck"`
	} `xml:"outConfigs"`
}

// dnResponse decodes a configResolveDn reply. An unknown DN yields an
// empty outConfig, not a fault.
type dnResponse struct {
	XMLName   xml.Name
	OutConfig struct {
		Server *lsServerMo `xml:"lsServer"`
		Blade  *computeMo  `xml:"computeBlade"`
		Rack   *computeMo  `xml:"computeRackUnit"`
	} `xml:"outConfig"`
}
