package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/solbridge/huawei-mqtt-bridge/pkg/modbusclient"
	"github.com/solbridge/huawei-mqtt-bridge/pkg/registers"
)

// one-shot register read, handy when mapping out a new inverter.
func main() {
	addr := flag.String("addr", "", "inverter ip")
	port := flag.String("port", "502", "modbus port, or auto")
	slaveID := flag.Int("slave", 1, "modbus slave id")
	name := flag.String("name", "", "register name, empty lists all names")
	timeout := flag.Duration("timeout", 10*time.Second, "modbus connect/read timeout")
	flag.Parse()

	if *name == "" {
		fmt.Println(strings.Join(registers.Names(), "\n"))
		return
	}

	def, err := registers.Lookup(strings.ToUpper(*name))
	if err != nil {
		log.Fatal(err)
	}

	client := modbusclient.New(*addr, *port, byte(*slaveID), *timeout, 0)
	err = client.Connect()
	if err != nil {
		log.Fatal(err)
	}
	defer client.Disconnect()

	val, err := client.Read(def)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s = %s %s\n", def.Name, val.String(), def.Unit)
}
