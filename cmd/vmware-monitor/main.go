package main

import "github.com/BrayAlter/VMware-EventID-2004-Detector/cmd/vmware-monitor/cmd"

func main() {
	cmd.Execute()
}
