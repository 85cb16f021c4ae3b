package vocabulary

// Graphviz shape names used by the built-in kinds.
const (
	ShapeBox       = "box"
	ShapeBox3D     = "box3d"
	ShapeCylinder  = "cylinder"
	ShapeDiamond   = "diamond"
	ShapeFolder    = "folder"
	ShapeHexagon   = "hexagon"
	ShapeComponent = "component"
	ShapeTab       = "tab"
	ShapeEllipse   = "ellipse"
)

// Builtin returns the kinds registered by NewDefault.
func Builtin() []Kind {
	return []Kind{
		{Name: "EC2", Category: "compute", Shape: ShapeBox3D, Color: "#ff9900", Description: "Virtual machine instance", Aliases: []string{"instance", "server", "vm"}},
		{Name: "RDS", Category: "database", Shape: ShapeCylinder, Color: "#3b48cc", Description: "Managed relational database", Aliases: []string{"postgres", "mysql", "aurora", "sql"}},
		{Name: "LoadBalancer", Category: "network", Shape: ShapeDiamond, Color: "#8c4fff", Description: "Load balancer or API gateway", Aliases: []string{"alb", "elb", "nlb", "gateway"}},
		{Name: "SQS", Category: "queue", Shape: ShapeTab, Color: "#e7157b", Description: "Managed message queue", Aliases: []string{"sns", "kafka", "rabbitmq"}},
		{Name: "Lambda", Category: "function", Shape: ShapeComponent, Color: "#ed7100", Description: "Serverless function", Aliases: []string{"faas", "serverless"}},
		{Name: "S3", Category: "storage", Shape: ShapeFolder, Color: "#7aa116", Description: "Object storage bucket", Aliases: []string{"bucket", "blob"}},
		{Name: "Compute", Category: "compute", Shape: ShapeBox3D, Description: "Generic compute instance", Aliases: []string{"app", "service", "web"}},
		{Name: "Database", Category: "database", Shape: ShapeCylinder, Description: "Generic managed database", Aliases: []string{"db", "datastore"}},
		{Name: "Queue", Category: "queue", Shape: ShapeTab, Description: "Generic message queue", Aliases: []string{"broker", "topic"}},
		{Name: "Function", Category: "function", Shape: ShapeComponent, Description: "Generic serverless function"},
		{Name: "ObjectStore", Category: "storage", Shape: ShapeFolder, Description: "Generic object store", Aliases: []string{"storage"}},
	}
}
