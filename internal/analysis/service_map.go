package analysis

import "strconv"

var wellKnownPorts = map[int]string{
	20:   "FTP-DATA",
	21:   "FTP",
	22:   "SSH",
	23:   "Telnet",
	25:   "SMTP",
	53:   "DNS",
	67:   "DHCP",
	68:   "DHCP",
	80:   "HTTP",
	110:  "POP3",
	123:  "NTP",
	137:  "NetBIOS",
	143:  "IMAP",
	161:  "SNMP",
	443:  "HTTPS",
	445:  "SMB",
	853:  "DoT",
	1900: "SSDP",
	3306: "MySQL",
	5353: "mDNS",
	5432: "PostgreSQL",
	6379: "Redis",
	8080: "HTTP-Alt",
}

// ServiceName returns the well-known service on port, or the port number.
func ServiceName(port int) string {
	if name, ok := wellKnownPorts[port]; ok {
		return name
	}
	return strconv.Itoa(port)
}

// serviceOf names the service of a transport flow: a well-known port on
// either side wins, otherwise the lower port.
func serviceOf(srcPort, dstPort int) string {
	if _, ok := wellKnownPorts[dstPort]; ok {
		return ServiceName(dstPort)
	}
	if _, ok := wellKnownPorts[srcPort]; ok {
		return ServiceName(srcPort)
	}
	if srcPort != 0 && srcPort < dstPort {
		return ServiceName(srcPort)
	}
	return ServiceName(dstPort)
}
