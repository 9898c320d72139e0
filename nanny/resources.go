package nanny

import "sort"

// Name identifies a resource.
type Name string

// Renewable resources, charged in units per second.
const (
	CPU       Name = "cpu"
	FileWrite Name = "filewrite"
	FileRead  Name = "fileread"
	NetSend   Name = "netsend"
	NetRecv   Name = "netrecv"
	LoopSend  Name = "loopsend"
	LoopRecv  Name = "looprecv"
	LogRate   Name = "lograte"
	Random    Name = "random"
)

// Level resources, reported by the external sampler.
const (
	Memory   Name = "memory"
	DiskUsed Name = "diskused"
)

// Fungible item resources, counted by live tokens.
const (
	Events      Name = "events"
	FilesOpened Name = "filesopened"
	InSockets   Name = "insockets"
	OutSockets  Name = "outsockets"
)

// Individual item resources, checked against an allow-set of ports.
const (
	MessPort Name = "messport"
	ConnPort Name = "connport"
)

// Category is how a resource is accounted.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryRenewable
	CategoryLevel
	CategoryFungible
	CategoryIndividual
)

func (c Category) String() string {
	switch c {
	case CategoryRenewable:
		return "renewable"
	case CategoryLevel:
		return "level"
	case CategoryFungible:
		return "fungible"
	case CategoryIndividual:
		return "individual"
	default:
		return "unknown"
	}
}

var categories = map[Name]Category{
	CPU:         CategoryRenewable,
	FileWrite:   CategoryRenewable,
	FileRead:    CategoryRenewable,
	NetSend:     CategoryRenewable,
	NetRecv:     CategoryRenewable,
	LoopSend:    CategoryRenewable,
	LoopRecv:    CategoryRenewable,
	LogRate:     CategoryRenewable,
	Random:      CategoryRenewable,
	Memory:      CategoryLevel,
	DiskUsed:    CategoryLevel,
	Events:      CategoryFungible,
	FilesOpened: CategoryFungible,
	InSockets:   CategoryFungible,
	OutSockets:  CategoryFungible,
	MessPort:    CategoryIndividual,
	ConnPort:    CategoryIndividual,
}

// MustAssign lists the resources every definition set has to name.
var MustAssign = []Name{CPU, Memory, DiskUsed}

// CategoryOf returns the accounting category of a resource name.
func CategoryOf(n Name) Category {
	return categories[n]
}

// Known returns every resource name, sorted.
func Known() []Name {
	names := make([]Name, 0, len(categories))
	for n := range categories {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
